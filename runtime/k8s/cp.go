package k8s

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
)

// sidecarStorePort 构建机sidecar的文件接收端口
const sidecarStorePort = 9999

// Cp 往构建机pod里写文件
type Cp struct{}

// NewCp 创建文件写入器
func NewCp() *Cp {
	return &Cp{}
}

// CpStringParam 写入参数
type CpStringParam struct {
	Namespace     string
	PodName       string
	ContainerName string
	Content       string
	Filename      string
}

// CpString 优先走sidecar的HTTP接口传文件，sidecar不在时退回apiserver的tar流
func (c *Cp) CpString(ctx context.Context, cli *kubernetes.Clientset, config *rest.Config, param CpStringParam) error {
	pod, err := NewPod().Info(ctx, cli, param.Namespace, param.PodName)
	if err != nil {
		return errors.Wrapf(err, "查询pod失败 %s", param.PodName)
	}
	storeURL := fmt.Sprintf("http://%s:%d/text-store", pod.Status.PodIP, sidecarStorePort)
	resp, err := resty.New().SetTimeout(5 * time.Second).R().
		SetContext(ctx).
		SetBody([]map[string]string{
			{"path": param.Filename, "content": param.Content},
		}).
		Post(storeURL)
	if err != nil {
		glog.V(2).Infof("sidecar不可达，退回apiserver传输 %s %v", param.PodName, err)
		return c.cpStringByAPIServer(ctx, cli, config, param)
	}
	if resp.IsError() {
		return errors.Errorf("sidecar文件写入失败 %s code=%d", param.PodName, resp.StatusCode())
	}
	return nil
}

// cpStringByAPIServer 把内容打成单文件tar流，经exec子资源解到目标目录
func (c *Cp) cpStringByAPIServer(ctx context.Context, cli *kubernetes.Clientset, config *rest.Config, param CpStringParam) error {
	destDir := filepath.Dir(param.Filename)
	req := cli.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(param.PodName).
		Namespace(param.Namespace).
		SubResource("exec").
		VersionedParams(&v1.PodExecOptions{
			Container: param.ContainerName,
			Command:   []string{"tar", "-xmf", "-", "-C", destDir},
			Stdin:     true,
			Stdout:    true,
			Stderr:    true,
			TTY:       false,
		}, scheme.ParameterCodec)
	exec, err := remotecommand.NewSPDYExecutor(config, "POST", req.URL())
	if err != nil {
		return errors.Wrapf(err, "实例化双向流失败 %s", param.PodName)
	}

	reader, writer := io.Pipe()
	go func() {
		defer writer.Close()
		if err := tarSingleFile(writer, filepath.Base(param.Filename), []byte(param.Content)); err != nil {
			glog.Errorf("tar流生成失败 %s %v", param.PodName, err)
		}
	}()
	stdOut := &bytes.Buffer{}
	stdErr := &bytes.Buffer{}
	if err := exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  reader,
		Stdout: stdOut,
		Stderr: stdErr,
		Tty:    false,
	}); err != nil {
		return errors.Wrapf(err, "文件传输失败 %s stderr=%s", param.PodName, stdErr.String())
	}
	return nil
}

func tarSingleFile(writer io.Writer, name string, content []byte) error {
	tw := tar.NewWriter(writer)
	defer tw.Close()
	if err := tw.WriteHeader(&tar.Header{
		Name: name,
		Mode: 0755,
		Size: int64(len(content)),
	}); err != nil {
		return err
	}
	_, err := tw.Write(content)
	return err
}
