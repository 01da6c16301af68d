package engine

import (
	"github.com/golang/glog"
)

// GlogPrinter BuildLogPrinter的默认实现：构建日志直接落引擎日志，
// 日志服务接入方可以替换为远程实现
type GlogPrinter struct{}

// NewGlogPrinter 实例化默认日志输出
func NewGlogPrinter() *GlogPrinter {
	return &GlogPrinter{}
}

// AddLine 普通日志行
func (g *GlogPrinter) AddLine(buildID string, message string, tag string, jobID string, executeCount int) {
	glog.Infof("BUILDLOG|%s|%s|j(%s)|e(%d)| %s", buildID, tag, jobID, executeCount, message)
}

// AddRedLine 红色告警行
func (g *GlogPrinter) AddRedLine(buildID string, message string, tag string, jobID string, executeCount int) {
	glog.Errorf("BUILDLOG|%s|%s|j(%s)|e(%d)| %s", buildID, tag, jobID, executeCount, message)
}

// AddYellowLine 黄色提示行
func (g *GlogPrinter) AddYellowLine(buildID string, message string, tag string, jobID string, executeCount int) {
	glog.Warningf("BUILDLOG|%s|%s|j(%s)|e(%d)| %s", buildID, tag, jobID, executeCount, message)
}
