package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const serviceAccountNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

// KubernetesProvider reads keys from a single Kubernetes Secret.
type KubernetesProvider struct {
	client     kubernetes.Interface
	namespace  string
	secretName string
}

// NewKubernetesProvider creates a provider from in-cluster config, falling
// back to a kubeconfig file.
func NewKubernetesProvider(cfg *Config) (*KubernetesProvider, error) {
	if cfg.K8sSecretName == "" {
		return nil, fmt.Errorf("kubernetes secret name is required: %w", ErrNotConfigured)
	}

	restConfig, err := restConfigFor(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build Kubernetes config: %w", err)
	}

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	return NewKubernetesProviderWithClient(client, cfg.K8sNamespace, cfg.K8sSecretName), nil
}

// NewKubernetesProviderWithClient uses an existing clientset. An empty
// namespace is read from the mounted service account, then "default".
func NewKubernetesProviderWithClient(client kubernetes.Interface, namespace, secretName string) *KubernetesProvider {
	if namespace == "" {
		namespace = "default"
		if data, err := os.ReadFile(serviceAccountNamespaceFile); err == nil {
			if ns := strings.TrimSpace(string(data)); ns != "" {
				namespace = ns
			}
		}
	}
	return &KubernetesProvider{
		client:     client,
		namespace:  namespace,
		secretName: secretName,
	}
}

func restConfigFor(cfg *Config) (*rest.Config, error) {
	if cfg.K8sInCluster {
		if c, err := rest.InClusterConfig(); err == nil {
			return c, nil
		}
	}
	kubeconfigPath := cfg.K8sKubeconfig
	if kubeconfigPath == "" {
		home, _ := os.UserHomeDir()
		kubeconfigPath = filepath.Join(home, ".kube", "config")
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfigPath)
}

// Name returns the provider name.
func (p *KubernetesProvider) Name() string {
	return "kubernetes"
}

// Get retrieves a secret key from the Kubernetes Secret.
func (p *KubernetesProvider) Get(ctx context.Context, key string) (string, error) {
	secret, err := p.GetWithMetadata(ctx, key)
	if err != nil {
		return "", err
	}
	return secret.Value, nil
}

// GetWithMetadata retrieves a secret key with metadata from the Kubernetes Secret.
func (p *KubernetesProvider) GetWithMetadata(ctx context.Context, key string) (*Secret, error) {
	k8sSecret, err := p.client.CoreV1().Secrets(p.namespace).Get(ctx, p.secretName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, ErrSecretNotFound
		}
		return nil, fmt.Errorf("failed to get Kubernetes secret: %w", err)
	}

	data, ok := k8sSecret.Data[key]
	if !ok {
		return nil, ErrSecretNotFound
	}

	secret := &Secret{
		Key:       key,
		Value:     string(data),
		Version:   k8sSecret.ResourceVersion,
		CreatedAt: k8sSecret.CreationTimestamp.Time,
		Metadata: map[string]string{
			"namespace":   p.namespace,
			"secret_name": p.secretName,
		},
	}
	for k, v := range k8sSecret.Labels {
		secret.Metadata["label."+k] = v
	}
	return secret, nil
}

// List returns all keys in the Kubernetes Secret, sorted.
func (p *KubernetesProvider) List(ctx context.Context) ([]string, error) {
	k8sSecret, err := p.client.CoreV1().Secrets(p.namespace).Get(ctx, p.secretName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to get Kubernetes secret: %w", err)
	}

	keys := make([]string, 0, len(k8sSecret.Data))
	for key := range k8sSecret.Data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op for Kubernetes provider.
func (p *KubernetesProvider) Close() error {
	return nil
}

// Healthy checks if the Kubernetes API is accessible. A missing Secret still
// counts as healthy.
func (p *KubernetesProvider) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.client.CoreV1().Secrets(p.namespace).Get(ctx, p.secretName, metav1.GetOptions{})
	return err == nil || apierrors.IsNotFound(err)
}
