package k8s

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sanity-io/litter"
	"github.com/golang/glog"
	v1 "k8s.io/api/core/v1"
	apimachineryErrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/util"
)

const (
	PodLabelVersion     = "engine-version"
	PodLabelBuildID     = "engine-build-id"
	PodLabelContainerID = "engine-container-id"
)

// Pod 构建机pod操作类
type Pod struct{}

// NewPod 创建pod操作类
func NewPod() *Pod {
	return &Pod{}
}

// BuildPodSpec 构建机pod的配置参数
type BuildPodSpec struct {
	BuildID      string
	ContainerID  string
	Image        string
	Command      []string
	Env          map[string]string
	NodeSelector map[string]string
	//LiveTimeSeconds 没有命令时pod保活的时长
	LiveTimeSeconds int
	ImagePullSecrets []string
	ServiceAccount   string
}

// BuildPod 按分发配置拼一个构建机pod
func (kc *Pod) BuildPod(spec BuildPodSpec) *v1.Pod {
	command := spec.Command
	if len(command) == 0 {
		command = []string{"sleep", fmt.Sprintf("%d", spec.LiveTimeSeconds)}
	}
	var env []v1.EnvVar
	for key, value := range spec.Env {
		env = append(env, v1.EnvVar{Name: key, Value: value})
	}
	var pullSecrets []v1.LocalObjectReference
	for _, name := range spec.ImagePullSecrets {
		pullSecrets = append(pullSecrets, v1.LocalObjectReference{Name: name})
	}
	return &v1.Pod{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "Pod",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name: PodName(spec.BuildID, spec.ContainerID),
			Labels: map[string]string{
				PodLabelVersion:     engine.VERSION,
				PodLabelBuildID:     spec.BuildID,
				PodLabelContainerID: spec.ContainerID,
			},
		},
		Spec: v1.PodSpec{
			RestartPolicy: v1.RestartPolicyNever,
			Containers: []v1.Container{
				{
					Name:    "builder",
					Image:   spec.Image,
					Command: command,
					Env:     env,
				},
			},
			NodeSelector:       spec.NodeSelector,
			ImagePullSecrets:   pullSecrets,
			ServiceAccountName: spec.ServiceAccount,
		},
	}
}

// PodName 构建机pod命名，同一Job重复拉起时名字稳定
func PodName(buildID, containerID string) string {
	return fmt.Sprintf("build-%s", util.Md5(buildID+"-"+containerID)[:16])
}

// Create 创建pod，已存在视为成功
func (kc *Pod) Create(ctx context.Context, cli *kubernetes.Clientset, namespace string, pod *v1.Pod) error {
	_, err := cli.CoreV1().Pods(namespace).Create(ctx, pod, metav1.CreateOptions{})
	if apimachineryErrors.IsAlreadyExists(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "创建pod失败 %s", pod.Name)
	}
	return nil
}

// Delete 删除pod，不存在视为成功
func (kc *Pod) Delete(ctx context.Context, cli *kubernetes.Clientset, namespace, name string) error {
	err := cli.CoreV1().Pods(namespace).Delete(ctx, name, *metav1.NewDeleteOptions(10))
	if apimachineryErrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "删除pod失败 %s", name)
	}
	return nil
}

// Status pod状态与是否存在
func (kc *Pod) Status(ctx context.Context, cli *kubernetes.Clientset, namespace, name string) (v1.PodPhase, bool) {
	pod, err := cli.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", false
	}
	return pod.Status.Phase, true
}

// Info 获取pod详情
func (kc *Pod) Info(ctx context.Context, cli *kubernetes.Clientset, namespace, name string) (*v1.Pod, error) {
	pod, err := cli.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	return pod, nil
}

// List 按标签找某次构建的全部pod
func (kc *Pod) List(ctx context.Context, cli *kubernetes.Clientset, namespace, buildID string) (*v1.PodList, error) {
	return cli.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", PodLabelBuildID, buildID),
	})
}

// Log 获取容器日志
func (kc *Pod) Log(ctx context.Context, cli *kubernetes.Clientset, namespace, name, container string) string {
	resp := cli.CoreV1().Pods(namespace).GetLogs(name, &v1.PodLogOptions{
		Container: container,
	})
	ioReader, err := resp.Stream(ctx)
	if err != nil {
		return err.Error()
	}
	logBytes, err := io.ReadAll(ioReader)
	if err != nil {
		return err.Error()
	}
	return string(logBytes)
}

// ContainerIsReady 判断构建容器是否已经准备好
func (kc *Pod) ContainerIsReady(ctx context.Context, cli *kubernetes.Clientset, namespace, name string) (error, bool) {
	pod, err := kc.Info(ctx, cli, namespace, name)
	if err != nil {
		return err, true
	}
	if pod.Status.Phase != v1.PodRunning {
		return nil, false
	}
	for _, item := range pod.Status.ContainerStatuses {
		glog.V(2).Infof("容器状态：%s %s %s", pod.Name, item.Name, litter.Sdump(pod.Status.ContainerStatuses))
		if !item.Ready && item.State.Running != nil && item.State.Running.StartedAt.Unix() < time.Now().Unix() {
			return fmt.Errorf("容器%s未准备好 原因: %s %s 日志：%s", item.Name, pod.Status.Message, pod.Status.Reason, kc.Log(ctx, cli, namespace, name, item.Name)), true
		}
	}
	return nil, true
}

// WaitReason 获取pod等待原因，命中失败类原因时返回false
func (kc *Pod) WaitReason(ctx context.Context, cli *kubernetes.Clientset, namespace, name string) (string, bool) {
	failStatus := []string{
		"CrashLoopBackOff",
		"InvalidImageName",
		"ImageInspectError",
		"ErrImageNeverPull",
		"ImagePullBackOff",
		"RegistryUnavailable",
		"ErrImagePull",
		"CreateContainerConfigError",
		"CreateContainerError",
		"PreStartContainer",
		"RunContainerError",
		"PostStartHookError",
		"ContainersNotInitialized",
	}

	pod, err := kc.Info(ctx, cli, namespace, name)
	if err != nil {
		return err.Error(), false
	}
	result := ""
	isSuccess := true
	statuses := append(append([]v1.ContainerStatus{}, pod.Status.InitContainerStatuses...), pod.Status.ContainerStatuses...)
	for _, item := range statuses {
		if item.State.Waiting == nil {
			continue
		}
		if util.InArray(item.State.Waiting.Reason, failStatus) {
			isSuccess = false
		}
		if item.State.Waiting.Reason != "" {
			result += fmt.Sprintf("%s 等待原因:%s 详细信息：%s\n", item.Name, item.State.Waiting.Reason, item.State.Waiting.Message)
		}
	}
	return result, isSuccess
}

// GetFailPodLog 获取失败容器的日志信息
func (kc *Pod) GetFailPodLog(ctx context.Context, cli *kubernetes.Clientset, namespace, name string) string {
	pod, err := kc.Info(ctx, cli, namespace, name)
	if err != nil {
		return err.Error()
	}
	result := ""
	statuses := append(append([]v1.ContainerStatus{}, pod.Status.InitContainerStatuses...), pod.Status.ContainerStatuses...)
	for _, item := range statuses {
		if item.State.Terminated == nil {
			continue
		}
		if item.State.Terminated.ExitCode != 0 {
			result += fmt.Sprintf("\n失败原因:%s\n", item.Name)
			result += kc.Log(ctx, cli, namespace, name, item.Name)
		}
	}
	return result
}
