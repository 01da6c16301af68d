package dispatch

import (
	"bytes"
	"context"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
	"github.com/chenyingqiao/pipeline-engine/runtime/k8s"
)

// DispatchTypeKubernetes kubernetes环境类型名
const DispatchTypeKubernetes = "KUBERNETES"

// KubeEnv kubernetes分发配置，从模型DispatchInfo.Value解码
type KubeEnv struct {
	Image            string            `mapstructure:"image"`
	Namespace        string            `mapstructure:"namespace"`
	KubeConfig       string            `mapstructure:"kubeConfig"`
	NodeSelector     map[string]string `mapstructure:"nodeSelector"`
	ImagePullSecrets []string          `mapstructure:"imagePullSecrets"`
	ServiceAccount   string            `mapstructure:"serviceAccount"`
	LiveTimeSeconds  int               `mapstructure:"liveTimeSeconds"`
	//BootstrapShell pod就绪后在容器里执行的初始化脚本，空则跳过
	BootstrapShell string `mapstructure:"bootstrapShell"`
}

// KubeDispatcher 把构建Job分发成集群里的构建机pod
type KubeDispatcher struct {
	cli    *kubernetes.Clientset
	config *rest.Config
	pod    *k8s.Pod
	cp     *k8s.Cp
	exec   *k8s.Exec
}

// NewKubeDispatcher 创建kubernetes分发器，kubeConfigPath为空时走集群内配置
func NewKubeDispatcher(kubeConfigPath string) (*KubeDispatcher, error) {
	var cli *kubernetes.Clientset
	var config *rest.Config
	var err error
	if kubeConfigPath == "" {
		cli, config, err = k8s.GetInClusterClient()
	} else {
		cli, config, err = k8s.GetOutClusterClient(kubeConfigPath)
	}
	if err != nil {
		return nil, err
	}
	return &KubeDispatcher{
		cli:    cli,
		config: config,
		pod:    k8s.NewPod(),
		cp:     k8s.NewCp(),
		exec:   k8s.NewExec(),
	}, nil
}

// Name 环境类型名
func (d *KubeDispatcher) Name() string {
	return DispatchTypeKubernetes
}

func decodeKubeEnv(info *model.DispatchInfo) (*KubeEnv, error) {
	env := &KubeEnv{Namespace: "default", LiveTimeSeconds: 3600}
	if err := mapstructure.Decode(info.Value, env); err != nil {
		return nil, errors.Wrap(err, "kubernetes分发配置解码失败")
	}
	if env.Image == "" {
		return nil, errors.New("kubernetes分发配置缺少镜像")
	}
	return env, nil
}

// Startup 拉起构建机pod
func (d *KubeDispatcher) Startup(ctx context.Context, event *engine.AgentStartupEvent, info *model.DispatchInfo) error {
	env, err := decodeKubeEnv(info)
	if err != nil {
		return err
	}
	pod := d.pod.BuildPod(k8s.BuildPodSpec{
		BuildID:     event.BuildID,
		ContainerID: event.ContainerID,
		Image:       env.Image,
		Env: map[string]string{
			"ENGINE_PROJECT_ID":    event.ProjectID,
			"ENGINE_PIPELINE_ID":   event.PipelineID,
			"ENGINE_BUILD_ID":      event.BuildID,
			"ENGINE_CONTAINER_ID":  event.ContainerID,
			"ENGINE_EXECUTE_COUNT": cast.ToString(event.ExecuteCount),
		},
		NodeSelector:     env.NodeSelector,
		LiveTimeSeconds:  env.LiveTimeSeconds,
		ImagePullSecrets: env.ImagePullSecrets,
		ServiceAccount:   env.ServiceAccount,
	})
	if err := d.pod.Create(ctx, d.cli, env.Namespace, pod); err != nil {
		return err
	}
	if env.BootstrapShell == "" {
		return nil
	}
	return d.bootstrap(ctx, env, pod.Name)
}

// bootstrap 等pod就绪后把初始化脚本送进去执行
func (d *KubeDispatcher) bootstrap(ctx context.Context, env *KubeEnv, podName string) error {
	if err := d.waitReady(ctx, env.Namespace, podName); err != nil {
		return err
	}
	scriptPath := "/tmp/engine-bootstrap.sh"
	if err := d.cp.CpString(ctx, d.cli, d.config, k8s.CpStringParam{
		Namespace:     env.Namespace,
		PodName:       podName,
		ContainerName: "builder",
		Content:       env.BootstrapShell,
		Filename:      scriptPath,
	}); err != nil {
		return err
	}
	var stdOut, stdErr bytes.Buffer
	if err := d.exec.RunShell(ctx, d.cli, d.config, &k8s.ExecShellParam{
		Namespace:     env.Namespace,
		PodName:       podName,
		ContainerName: "builder",
		Shell:         "sh " + scriptPath,
		SuccessWriter: &stdOut,
		ErrorWriter:   &stdErr,
	}); err != nil {
		return errors.Wrapf(err, "初始化脚本执行失败 %s stderr=%s", podName, stdErr.String())
	}
	return nil
}

// waitReady 轮询容器就绪，失败类等待原因直接报错
func (d *KubeDispatcher) waitReady(ctx context.Context, namespace, podName string) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	deadline := time.Now().Add(2 * time.Minute)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if reason, ok := d.pod.WaitReason(ctx, d.cli, namespace, podName); !ok {
				return errors.Errorf("pod启动失败 %s %s", podName, reason)
			}
			err, checked := d.pod.ContainerIsReady(ctx, d.cli, namespace, podName)
			if checked && err == nil {
				return nil
			}
			if checked && err != nil {
				return errors.Wrapf(err, "容器未就绪 %s", podName)
			}
			if time.Now().After(deadline) {
				return errors.Errorf("pod就绪等待超时 %s", podName)
			}
		}
	}
}

// Shutdown 回收构建机pod
func (d *KubeDispatcher) Shutdown(ctx context.Context, event *engine.AgentShutdownEvent, info *model.DispatchInfo) error {
	env, err := decodeKubeEnv(info)
	if err != nil {
		return err
	}
	return d.pod.Delete(ctx, d.cli, env.Namespace, k8s.PodName(event.BuildID, event.ContainerID))
}
