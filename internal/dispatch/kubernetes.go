package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	containerName       = "task"
	serviceIDAnnotation = "flowplane.io/service-id"
	podPollInterval     = 500 * time.Millisecond
	defaultCPULimit     = "500m"
	defaultMemoryLimit  = "256Mi"
	defaultK8sNamespace = "default"
)

// KubernetesConfig holds configuration for the Kubernetes runtime.
type KubernetesConfig struct {
	Namespace string
	// Kubeconfig is used when not running in-cluster. Defaults to ~/.kube/config.
	Kubeconfig     string
	ServiceAccount string

	DefaultCPULimit    string
	DefaultMemoryLimit string
}

// KubernetesRuntime runs each task as a batch/v1 Job.
type KubernetesRuntime struct {
	clientset kubernetes.Interface
	config    KubernetesConfig
	logger    *slog.Logger
}

// KubernetesHandle represents a running Job.
type KubernetesHandle struct {
	clientset kubernetes.Interface
	namespace string
	jobName   string
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE")
}

// NewKubernetesRuntime tries in-cluster configuration first and falls back
// to a kubeconfig file for local development.
func NewKubernetesRuntime(cfg KubernetesConfig, log *slog.Logger) (*KubernetesRuntime, error) {
	if log == nil {
		log = slog.Default()
	}

	restCfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := cfg.Kubeconfig
		if kubeconfig == "" {
			kubeconfig = filepath.Join(homeDir(), ".kube", "config")
		}
		log.Info("in-cluster config not available, using kubeconfig", "path", kubeconfig, "reason", err)
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	return newKubernetesRuntime(clientset, cfg, log), nil
}

func newKubernetesRuntime(clientset kubernetes.Interface, cfg KubernetesConfig, log *slog.Logger) *KubernetesRuntime {
	if cfg.Namespace == "" {
		cfg.Namespace = defaultK8sNamespace
	}
	if cfg.DefaultCPULimit == "" {
		cfg.DefaultCPULimit = defaultCPULimit
	}
	if cfg.DefaultMemoryLimit == "" {
		cfg.DefaultMemoryLimit = defaultMemoryLimit
	}
	if log == nil {
		log = slog.Default()
	}
	return &KubernetesRuntime{clientset: clientset, config: cfg, logger: log}
}

// Start creates the Job. Retries are left to the workflow, so the Job's
// backoff limit is zero.
func (k *KubernetesRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if opts.Image == "" {
		return nil, errors.New("image is required")
	}

	jobName := fmt.Sprintf("flowplane-%d", time.Now().UnixNano())

	var envVars []corev1.EnvVar
	for _, kv := range envList(opts.Env) {
		name, value, _ := strings.Cut(kv, "=")
		envVars = append(envVars, corev1.EnvVar{Name: name, Value: value})
	}

	resources := corev1.ResourceRequirements{
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse(k.config.DefaultCPULimit),
			corev1.ResourceMemory: resource.MustParse(k.config.DefaultMemoryLimit),
		},
	}

	labels := map[string]string{managedByLabel: "flowplane"}
	backoffLimit := int32(0)
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:        jobName,
			Namespace:   k.config.Namespace,
			Labels:      labels,
			Annotations: map[string]string{serviceIDAnnotation: opts.ServiceID},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						"job-name":     jobName,
						managedByLabel: "flowplane",
					},
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:      containerName,
							Image:     opts.Image,
							Command:   opts.Command,
							Env:       envVars,
							Resources: resources,
						},
					},
				},
			},
		},
	}

	if k.config.ServiceAccount != "" {
		job.Spec.Template.Spec.ServiceAccountName = k.config.ServiceAccount
	}

	created, err := k.clientset.BatchV1().Jobs(k.config.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes job: %w", err)
	}

	k.logger.Info("created kubernetes job", "job", created.Name, "namespace", k.config.Namespace)

	return &KubernetesHandle{
		clientset: k.clientset,
		namespace: k.config.Namespace,
		jobName:   created.Name,
	}, nil
}

// Wait blocks until the Job's pod has succeeded or failed.
func (h *KubernetesHandle) Wait(ctx context.Context) (ExitResult, error) {
	podName, err := h.waitForPod(ctx)
	if err != nil {
		return ExitResult{ExitCode: -1, Error: err}, err
	}

	watcher, err := h.clientset.CoreV1().Pods(h.namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: fmt.Sprintf("metadata.name=%s", podName),
	})
	if err != nil {
		return ExitResult{ExitCode: -1, Error: err}, err
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
		case event, ok := <-watcher.ResultChan():
			if !ok {
				if ctx.Err() != nil {
					return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
				}
				err := errors.New("pod watch closed")
				return ExitResult{ExitCode: -1, Error: err}, err
			}
			if event.Type == watch.Error {
				err := errors.New("pod watch error")
				return ExitResult{ExitCode: -1, Error: err}, err
			}

			pod, ok := event.Object.(*corev1.Pod)
			if !ok {
				continue
			}
			if result, done := podResult(pod); done {
				return result, nil
			}
		}
	}
}

// podResult maps a finished pod to its exit result.
func podResult(pod *corev1.Pod) (ExitResult, bool) {
	switch pod.Status.Phase {
	case corev1.PodSucceeded:
		return ExitResult{ExitCode: 0}, true
	case corev1.PodFailed:
		result := ExitResult{ExitCode: -1}
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.State.Terminated != nil {
				result.ExitCode = int(cs.State.Terminated.ExitCode)
				if cs.State.Terminated.Reason != "" {
					result.Error = errors.New(cs.State.Terminated.Reason)
				}
				break
			}
		}
		return result, true
	}
	return ExitResult{}, false
}

func (h *KubernetesHandle) waitForPod(ctx context.Context) (string, error) {
	ticker := time.NewTicker(podPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			pods, err := h.clientset.CoreV1().Pods(h.namespace).List(ctx, metav1.ListOptions{
				LabelSelector: fmt.Sprintf("job-name=%s", h.jobName),
			})
			if err != nil {
				return "", err
			}
			if len(pods.Items) > 0 {
				return pods.Items[0].Name, nil
			}
		}
	}
}

// Stop deletes the Job together with its pods.
func (h *KubernetesHandle) Stop(ctx context.Context) error {
	propagation := metav1.DeletePropagationForeground
	err := h.clientset.BatchV1().Jobs(h.namespace).Delete(ctx, h.jobName, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", h.jobName, err)
	}
	return nil
}

func (h *KubernetesHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	podName, err := h.waitForPod(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find pod for job %s: %w", h.jobName, err)
	}

	if err := h.waitForContainerReady(ctx, podName); err != nil {
		return nil, err
	}

	req := h.clientset.CoreV1().Pods(h.namespace).GetLogs(podName, &corev1.PodLogOptions{
		Container: containerName,
		Follow:    true,
	})
	return req.Stream(ctx)
}

func (h *KubernetesHandle) waitForContainerReady(ctx context.Context, podName string) error {
	ticker := time.NewTicker(podPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pod, err := h.clientset.CoreV1().Pods(h.namespace).Get(ctx, podName, metav1.GetOptions{})
			if err != nil {
				return err
			}
			switch pod.Status.Phase {
			case corev1.PodRunning, corev1.PodSucceeded, corev1.PodFailed:
				return nil
			}
		}
	}
}
