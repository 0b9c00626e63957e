package k8s

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/yaml"

	"drpactor/internal/model"
	"drpactor/pkg/config"
	"drpactor/pkg/logger"
)

const (
	// EnvWorkItem carries the JSON encoded work item into the Job container
	EnvWorkItem = "DRP_WORK_ITEM"

	labelApp      = "app"
	labelKind     = "drp.kind"
	labelTarget   = "drp.target"
	annotTarget   = "drp.target"
	labelJobName  = "job-name"
	appName       = "drpworker"
	containerName = "drpworker"
)

// Kubernetes DNS-1123 label: lowercase alphanumerics and '-', at most 63 characters
var dns1123LabelRegex = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

var labelUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// labelValue squeezes a work target into a valid label value. The raw
// target goes into an annotation.
func labelValue(target string) string {
	v := labelUnsafe.ReplaceAllString(target, "_")
	if len(v) > 63 {
		v = v[:63]
	}
	return strings.TrimFunc(v, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
}

func validateK8sName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > 63 {
		return fmt.Errorf("name too long (max 63 characters): %s", name)
	}
	if !dns1123LabelRegex.MatchString(name) {
		return fmt.Errorf("invalid name '%s': must consist of lowercase alphanumeric characters or '-'", name)
	}
	return nil
}

// NewClient builds a clientset from the in-cluster config, falling back to kubeconfig.
func NewClient() (kubernetes.Interface, error) {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
		restConfig, err = kubeConfig.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get kubernetes config: %v", err)
		}
	}

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %v", err)
	}
	return client, nil
}

// JobContext values available to a Job template
type JobContext struct {
	Name           string `json:"name"`
	Namespace      string `json:"namespace"`
	Image          string `json:"image"`
	ServiceAccount string `json:"serviceAccount"`
	Kind           string `json:"kind"`
	Target         string `json:"target"`
	Item           string `json:"item"` // JSON encoded work item
}

// JobRunner runs each work item as a Kubernetes Job. The container runs
// "drpworker exec" and prints the JobResult as its last line of output.
type JobRunner struct {
	client       kubernetes.Interface
	cfg          config.K8sJobConfig
	tmpl         *template.Template
	pollInterval time.Duration
}

// NewJobRunner creates a runner. The Job template is optional.
func NewJobRunner(client kubernetes.Interface, cfg config.K8sJobConfig) (*JobRunner, error) {
	r := &JobRunner{
		client:       client,
		cfg:          cfg,
		pollInterval: time.Duration(cfg.PollInterval) * time.Second,
	}
	if r.pollInterval <= 0 {
		r.pollInterval = 5 * time.Second
	}
	if cfg.TemplatePath != "" {
		content, err := os.ReadFile(cfg.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read template file: %v", err)
		}
		r.tmpl, err = template.New("job").Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template: %v", err)
		}
	}
	return r, nil
}

func jobName(item *model.WorkItem) string {
	id := strings.ReplaceAll(item.ID, "-", "")
	if len(id) > 12 {
		id = id[:12]
	}
	return strings.ToLower(fmt.Sprintf("drp-%s-%s", item.Kind, id))
}

// BuildJob renders the Job object for an item.
func (r *JobRunner) BuildJob(item *model.WorkItem) (*batchv1.Job, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal work item: %w", err)
	}
	name := jobName(item)
	if err := validateK8sName(name); err != nil {
		return nil, err
	}

	var job *batchv1.Job
	if r.tmpl != nil {
		job, err = r.renderTemplate(&JobContext{
			Name:           name,
			Namespace:      r.cfg.Namespace,
			Image:          r.cfg.Image,
			ServiceAccount: r.cfg.ServiceAccount,
			Kind:           string(item.Kind),
			Target:         item.Target,
			Item:           string(payload),
		})
		if err != nil {
			return nil, err
		}
	} else {
		job = r.defaultJob(name)
	}

	// identity and payload are always ours, whatever the template says
	job.Name = name
	job.Namespace = r.cfg.Namespace
	if job.Labels == nil {
		job.Labels = map[string]string{}
	}
	job.Labels[labelApp] = appName
	job.Labels[labelKind] = string(item.Kind)
	job.Labels[labelTarget] = labelValue(item.Target)
	if job.Annotations == nil {
		job.Annotations = map[string]string{}
	}
	job.Annotations[annotTarget] = item.Target
	if len(job.Spec.Template.Spec.Containers) == 0 {
		return nil, fmt.Errorf("job template for %s has no container", name)
	}
	c := &job.Spec.Template.Spec.Containers[0]
	c.Env = append(c.Env, corev1.EnvVar{Name: EnvWorkItem, Value: string(payload)})
	return job, nil
}

func (r *JobRunner) renderTemplate(ctx *JobContext) (*batchv1.Job, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, ctx); err != nil {
		return nil, fmt.Errorf("failed to execute template: %v", err)
	}
	var job batchv1.Job
	if err := yaml.Unmarshal(buf.Bytes(), &job); err != nil {
		return nil, fmt.Errorf("failed to parse rendered job: %v", err)
	}
	return &job, nil
}

func (r *JobRunner) defaultJob(name string) *batchv1.Job {
	backoff := int32(0)
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoff,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{labelApp: appName}},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: r.cfg.ServiceAccount,
					Containers: []corev1.Container{{
						Name:    containerName,
						Image:   r.cfg.Image,
						Command: []string{"drpworker", "exec"},
					}},
				},
			},
		},
	}
}

// Run creates the Job, waits for it to finish and deletes it.
func (r *JobRunner) Run(ctx context.Context, item *model.WorkItem) (model.JobResult, error) {
	job, err := r.BuildJob(item)
	if err != nil {
		return model.JobResult{}, err
	}

	jobs := r.client.BatchV1().Jobs(r.cfg.Namespace)
	created, err := jobs.Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return model.JobResult{}, fmt.Errorf("failed to create job %s: %w", job.Name, err)
	}
	logger.InfoCtx(ctx, "created job %s for %s %s", created.Name, item.Kind, item.Target)

	defer func() {
		policy := metav1.DeletePropagationBackground
		err := jobs.Delete(context.WithoutCancel(ctx), created.Name, metav1.DeleteOptions{PropagationPolicy: &policy})
		if err != nil {
			logger.WarnCtx(ctx, "failed to delete job %s: %v", created.Name, err)
		}
	}()

	start := time.Now()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return model.JobResult{}, ctx.Err()
		case <-ticker.C:
		}

		current, err := jobs.Get(ctx, created.Name, metav1.GetOptions{})
		if err != nil {
			logger.WarnCtx(ctx, "failed to get job %s: %v", created.Name, err)
			continue
		}

		switch {
		case current.Status.Succeeded > 0:
			result := r.collect(ctx, created.Name)
			if result == nil {
				result = &model.JobResult{ReturnCode: 0, Status: model.StatusOK}
			}
			if result.Elapsed == 0 {
				result.Elapsed = time.Since(start).Seconds()
			}
			return *result, nil
		case current.Status.Failed > 0:
			result := r.collect(ctx, created.Name)
			rc := -1
			if result != nil && result.ReturnCode != 0 {
				rc = result.ReturnCode
			}
			return model.JobResult{ReturnCode: rc}, fmt.Errorf("job %s failed", created.Name)
		}
	}
}

// collect reads the JobResult printed by the worker container, nil when
// the logs do not carry one.
func (r *JobRunner) collect(ctx context.Context, name string) *model.JobResult {
	pods, err := r.client.CoreV1().Pods(r.cfg.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", labelJobName, name),
	})
	if err != nil || len(pods.Items) == 0 {
		return nil
	}

	raw, err := r.client.CoreV1().Pods(r.cfg.Namespace).
		GetLogs(pods.Items[0].Name, &corev1.PodLogOptions{Container: containerName}).
		DoRaw(ctx)
	if err != nil {
		logger.WarnCtx(ctx, "failed to read logs of job %s: %v", name, err)
		return nil
	}
	return ParseResult(raw)
}

// ParseResult decodes the last JSON line of a worker's output.
func ParseResult(out []byte) *model.JobResult {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var result model.JobResult
		if err := json.Unmarshal([]byte(line), &result); err == nil {
			return &result
		}
	}
	return nil
}
