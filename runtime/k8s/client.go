package k8s

import (
	"github.com/pkg/errors"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

//GetInClusterClient 获取集群中的链接
func GetInClusterClient() (*kubernetes.Clientset, *rest.Config, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		return nil, nil, errors.Wrap(err, "集群内配置获取失败")
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, nil, errors.Wrap(err, "集群内客户端创建失败")
	}
	return clientset, config, nil
}

//GetOutClusterClient 通过kubeconfig链接
func GetOutClusterClient(configPath string) (*kubernetes.Clientset, *rest.Config, error) {
	config, err := clientcmd.BuildConfigFromFlags("", configPath)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "kubeconfig解析失败 %s", configPath)
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, nil, errors.Wrap(err, "集群外客户端创建失败")
	}
	return clientset, config, nil
}
