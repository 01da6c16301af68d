package k8s

import (
	"context"
	"io"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
)

// Exec 进入构建机pod执行命令
type Exec struct{}

// NewExec 创建命令执行器
func NewExec() *Exec {
	return &Exec{}
}

// ExecShellParam 执行shell的参数
type ExecShellParam struct {
	Namespace     string
	PodName       string
	ContainerName string
	Shell         string
	SuccessWriter io.Writer
	ErrorWriter   io.Writer
}

// RunShell 在容器里跑一段shell，ctx取消时往stdin塞ETX触发中断
func (e *Exec) RunShell(ctx context.Context, cli *kubernetes.Clientset, config *rest.Config, param *ExecShellParam) error {
	req := cli.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(param.PodName).
		Namespace(param.Namespace).
		SubResource("exec").
		VersionedParams(&v1.PodExecOptions{
			Container: param.ContainerName,
			Command:   []string{"sh", "-c", param.Shell},
			Stdin:     true,
			Stdout:    true,
			Stderr:    true,
			TTY:       false,
		}, scheme.ParameterCodec)
	exec, err := remotecommand.NewSPDYExecutor(config, "POST", req.URL())
	if err != nil {
		return errors.Wrapf(err, "实例化双向流失败 %s", param.PodName)
	}

	stdInReader, stdInWriter := io.Pipe()
	streamCtx, streamCancel := context.WithCancel(context.Background())
	defer streamCancel()
	go func() {
		<-ctx.Done()
		defer stdInReader.Close()
		defer streamCancel()
		if _, err := stdInWriter.Write([]byte{byte(3)}); err != nil {
			glog.V(2).Infof("命令中断信号发送失败 %s %v", param.PodName, err)
		}
	}()

	if err := exec.StreamWithContext(streamCtx, remotecommand.StreamOptions{
		Stdin:  stdInReader,
		Stdout: param.SuccessWriter,
		Stderr: param.ErrorWriter,
		Tty:    false,
	}); err != nil {
		return errors.Wrapf(err, "执行命令失败 %s", param.PodName)
	}
	return nil
}
