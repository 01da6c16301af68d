package util

import (
	"crypto/md5"
	"encoding/hex"
)

// Md5 计算字符串md5，containerHashId等短标识使用
func Md5(content string) string {
	hash := md5.Sum([]byte(content))
	return hex.EncodeToString(hash[:])
}
