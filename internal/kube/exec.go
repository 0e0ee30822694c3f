package kube

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"
	utilexec "k8s.io/client-go/util/exec"

	"k3smcp/internal/api"
)

const defaultExecOutputBytes = 64 * 1024

// execStream runs the command over SPDY. It is a variable so tests can
// replace the network round trip.
var execStream = func(ctx context.Context, c *Client, namespace, pod string, opts *corev1.PodExecOptions, stdout, stderr io.Writer) error {
	if c.restConfig == nil {
		return api.NewError(api.KindUnavailable, "exec requires a kubeconfig-backed client").WithMutation(api.MutationNotAttempted)
	}
	req := c.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(namespace).
		Name(pod).
		SubResource("exec").
		VersionedParams(opts, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(c.restConfig, http.MethodPost, req.URL())
	if err != nil {
		return err
	}
	return executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: stdout,
		Stderr: stderr,
	})
}

// Exec runs a non-interactive command in a container and captures its
// output. A non-zero exit status is reported in the result, not as an error.
// Exec is never retried.
func (c *Client) Exec(ctx context.Context, namespace, pod string, opts api.ExecOptions) (*api.ExecResult, error) {
	var fields []string
	if strings.TrimSpace(namespace) == "" {
		fields = append(fields, "namespace")
	}
	if strings.TrimSpace(pod) == "" {
		fields = append(fields, "pod_name")
	}
	if len(opts.Command) == 0 || strings.TrimSpace(opts.Command[0]) == "" {
		fields = append(fields, "command")
	}
	if len(fields) > 0 {
		return nil, api.InvalidArgument(fields, "exec needs a namespace, a pod name and a command").WithMutation(api.MutationNotAttempted)
	}

	limit := opts.MaxOutputBytes
	if limit <= 0 {
		limit = defaultExecOutputBytes
	}
	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}

	podExecOpts := &corev1.PodExecOptions{
		Container: opts.Container,
		Command:   opts.Command,
		Stdout:    true,
		Stderr:    true,
	}

	result := &api.ExecResult{}
	err := c.mutate(ctx, "exec in pod "+pod, func(ctx context.Context) error {
		err := execStream(ctx, c, namespace, pod, podExecOpts, stdout, stderr)
		var exitErr utilexec.ExitError
		if errors.As(err, &exitErr) && exitErr.Exited() {
			result.ExitCode = exitErr.ExitStatus()
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.Truncated = stdout.truncated || stderr.truncated
	return result, nil
}

// cappedBuffer keeps the first limit bytes written and discards the rest
// without failing the writer, so the remote command is not disturbed.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
