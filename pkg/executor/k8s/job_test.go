package k8s

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"drpactor/internal/model"
	"drpactor/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/client-go/kubernetes/fake"
)

func newTestRunner(t *testing.T, cfg config.K8sJobConfig) (*JobRunner, *fake.Clientset) {
	client := fake.NewSimpleClientset()
	r, err := NewJobRunner(client, cfg)
	require.NoError(t, err)
	r.pollInterval = 10 * time.Millisecond
	return r, client
}

func TestBuildJob_Default(t *testing.T) {
	r, _ := newTestRunner(t, config.K8sJobConfig{Namespace: "drp", Image: "pfs/drp:latest", ServiceAccount: "drp"})

	item := model.NewWorkItem(model.JobReduce, "000100")
	job, err := r.BuildJob(item)
	require.NoError(t, err)

	assert.Equal(t, "drp", job.Namespace)
	assert.NoError(t, validateK8sName(job.Name))
	assert.Equal(t, "reduce", job.Labels[labelKind])
	assert.Equal(t, "000100", job.Labels[labelTarget])

	c := job.Spec.Template.Spec.Containers[0]
	assert.Equal(t, "pfs/drp:latest", c.Image)
	require.Len(t, c.Env, 1)
	assert.Equal(t, EnvWorkItem, c.Env[0].Name)
	assert.Contains(t, c.Env[0].Value, item.ID)
}

func TestBuildJob_LabelsValidForEveryTarget(t *testing.T) {
	r, _ := newTestRunner(t, config.K8sJobConfig{Namespace: "drp", Image: "pfs/drp:latest"})

	targets := map[string]string{
		"000100":                    "000100",
		"000100/extractionQa":       "000100_extractionQa",
		"where:visit=100":           "where_visit_100",
		"where:visit IN (100, 101)": "where_visit_IN_100_101",
		"group-7":                   "group-7",
		"000100b1/detectorMapQa":    "000100b1_detectorMapQa",
	}
	for target, want := range targets {
		job, err := r.BuildJob(model.NewWorkItem(model.JobReduce, target))
		require.NoError(t, err)

		for key, value := range job.Labels {
			assert.Empty(t, validation.IsValidLabelValue(value), "label %s=%q", key, value)
		}
		assert.Equal(t, want, job.Labels[labelTarget])
		assert.Equal(t, target, job.Annotations[annotTarget])
	}
}

func TestLabelValue_Truncated(t *testing.T) {
	v := labelValue("where:" + strings.Repeat("visit=100 OR ", 10))
	assert.LessOrEqual(t, len(v), 63)
	assert.Empty(t, validation.IsValidLabelValue(v))
}

func TestBuildJob_Template(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	tmpl := `apiVersion: batch/v1
kind: Job
metadata:
  name: ignored
  labels:
    team: pfs
spec:
  template:
    spec:
      restartPolicy: Never
      containers:
        - name: drpworker
          image: {{ .Image }}
          command: ["drpworker", "exec", "--kind", "{{ .Kind }}"]
`
	require.NoError(t, os.WriteFile(path, []byte(tmpl), 0o644))

	r, _ := newTestRunner(t, config.K8sJobConfig{Namespace: "drp", Image: "pfs/drp:w.2024", TemplatePath: path})
	job, err := r.BuildJob(model.NewWorkItem(model.JobIngest, "000100"))
	require.NoError(t, err)

	assert.NotEqual(t, "ignored", job.Name)
	assert.Equal(t, "pfs", job.Labels["team"])
	c := job.Spec.Template.Spec.Containers[0]
	assert.Equal(t, "pfs/drp:w.2024", c.Image)
	assert.Equal(t, []string{"drpworker", "exec", "--kind", "ingest"}, c.Command)
}

func TestJobRunner_Run(t *testing.T) {
	r, client := newTestRunner(t, config.K8sJobConfig{Namespace: "drp", Image: "pfs/drp"})
	item := model.NewWorkItem(model.JobReduce, "000100")
	name := jobName(item)

	go func() {
		ctx := context.Background()
		for {
			job, err := client.BatchV1().Jobs("drp").Get(ctx, name, metav1.GetOptions{})
			if err == nil {
				job.Status.Succeeded = 1
				_, _ = client.BatchV1().Jobs("drp").UpdateStatus(ctx, job, metav1.UpdateOptions{})
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := r.Run(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOK, res.Status)

	_, err = client.BatchV1().Jobs("drp").Get(context.Background(), name, metav1.GetOptions{})
	assert.Error(t, err, "job should be deleted once finished")
}

func TestJobRunner_Failed(t *testing.T) {
	r, client := newTestRunner(t, config.K8sJobConfig{Namespace: "drp", Image: "pfs/drp"})
	item := model.NewWorkItem(model.JobDetrend, "000100")
	name := jobName(item)

	go func() {
		ctx := context.Background()
		for {
			job, err := client.BatchV1().Jobs("drp").Get(ctx, name, metav1.GetOptions{})
			if err == nil {
				job.Status.Failed = 1
				_, _ = client.BatchV1().Jobs("drp").UpdateStatus(ctx, job, metav1.UpdateOptions{})
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := r.Run(ctx, item)
	assert.Error(t, err)
	assert.Equal(t, -1, res.ReturnCode)
}

func TestParseResult(t *testing.T) {
	out := []byte("INFO starting\n{\"item_id\":\"x\",\"return_code\":0,\"status\":\"OK\",\"elapsed\":2.5}\n")
	res := ParseResult(out)
	require.NotNil(t, res)
	assert.Equal(t, "x", res.ItemID)
	assert.Equal(t, 2.5, res.Elapsed)

	assert.Nil(t, ParseResult([]byte("fake logs")))
}
