package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const serviceAccountNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

// KubernetesProvider reads keys of a single Kubernetes Secret.
type KubernetesProvider struct {
	client     kubernetes.Interface
	namespace  string
	secretName string
}

// NewKubernetesProvider creates a provider from in-cluster credentials,
// falling back to a kubeconfig file outside a cluster.
func NewKubernetesProvider(cfg *Config) (*KubernetesProvider, error) {
	if cfg.K8sSecretName == "" {
		return nil, fmt.Errorf("kubernetes secret name is required")
	}

	restConfig, err := rest.InClusterConfig()
	if err != nil {
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath(cfg.K8sKubeconfig))
		if err != nil {
			return nil, fmt.Errorf("failed to build Kubernetes config: %w", err)
		}
	}

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	namespace := cfg.K8sNamespace
	if namespace == "" {
		namespace = "default"
		if data, err := os.ReadFile(serviceAccountNamespaceFile); err == nil {
			namespace = strings.TrimSpace(string(data))
		}
	}

	return NewKubernetesProviderWithClient(client, namespace, cfg.K8sSecretName), nil
}

// NewKubernetesProviderWithClient creates a provider on an existing client.
func NewKubernetesProviderWithClient(client kubernetes.Interface, namespace, secretName string) *KubernetesProvider {
	return &KubernetesProvider{
		client:     client,
		namespace:  namespace,
		secretName: secretName,
	}
}

func kubeconfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("KUBECONFIG"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".kube", "config")
}

func (p *KubernetesProvider) Name() string { return "kubernetes" }

// Get retrieves a key from the Secret. A missing Secret and a missing key
// both return ErrSecretNotFound.
func (p *KubernetesProvider) Get(ctx context.Context, key string) (string, error) {
	secret, err := p.client.CoreV1().Secrets(p.namespace).Get(ctx, p.secretName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("failed to get Kubernetes secret %s/%s: %w", p.namespace, p.secretName, err)
	}

	data, ok := secret.Data[key]
	if !ok {
		return "", ErrSecretNotFound
	}
	return string(data), nil
}

// Healthy checks if the Kubernetes API is reachable.
func (p *KubernetesProvider) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.client.CoreV1().Secrets(p.namespace).Get(ctx, p.secretName, metav1.GetOptions{})
	// Secret not found is OK - API is still healthy
	return err == nil || apierrors.IsNotFound(err)
}

func (p *KubernetesProvider) Close() error { return nil }

// Verify interface compliance
var (
	_ Provider = (*EnvProvider)(nil)
	_ Provider = (*KubernetesProvider)(nil)
)
