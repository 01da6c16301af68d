package util

import (
	"bytes"
	"regexp"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

var replaceFlagPattern = regexp.MustCompile(`\{\{.+\}\}`)

// HasReplaceFlag 是否含有模板占位符
func HasReplaceFlag(temp string) bool {
	return replaceFlagPattern.MatchString(temp)
}

// ParseEnv 用构建变量渲染模板串，渲染失败返回原串。
// 互斥组名、审核人列表、运行条件值都走这里，保证同一份变量渲染口径一致
func ParseEnv(temp string, data map[string]string) string {
	if temp == "" || !HasReplaceFlag(temp) {
		return temp
	}
	templateEngine, err := template.New("temp").Option("missingkey=error").Funcs(sprig.TxtFuncMap()).Parse(temp)
	if err != nil {
		return temp
	}
	var byteBuf bytes.Buffer
	err = templateEngine.Execute(&byteBuf, data)
	if err != nil {
		return temp
	}
	return byteBuf.String()
}
