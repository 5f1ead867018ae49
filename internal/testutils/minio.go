//go:build integration

package testutils

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
)

const (
	minioImage  = "minio/minio:latest"
	mcImage     = "minio/mc:latest"
	minioUser   = "minioadmin"
	minioSecret = "minioadmin"
)

// Minio is a running MinIO server with one bucket.
type Minio struct {
	Container testcontainers.Container
	Endpoint  string
	BucketURL string
}

// OpenBucket opens the test bucket through the s3blob driver. The caller
// imports gocloud.dev/blob/s3blob.
func (m *Minio) OpenBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, m.BucketURL)
}

// StartMinio starts MinIO, creates bucket in it and exports the AWS
// credentials the s3blob driver reads. The container is terminated when the
// test ends.
func StartMinio(t *testing.T, ctx context.Context, bucket string) *Minio {
	t.Helper()

	netName := fmt.Sprintf("exporter-it-%d", time.Now().UnixNano())
	net, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{Name: netName},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { net.Remove(context.Background()) })

	server, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:          minioImage,
			ExposedPorts:   []string{"9000/tcp"},
			Networks:       []string{netName},
			NetworkAliases: map[string][]string{netName: {"minio"}},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioSecret,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Terminate(context.Background()); err != nil {
			t.Logf("terminate minio: %v", err)
		}
	})

	makeBucket(t, ctx, netName, bucket)

	host, err := server.Host(ctx)
	if err != nil {
		t.Fatalf("minio host: %v", err)
	}
	port, err := server.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("minio port: %v", err)
	}
	endpoint := fmt.Sprintf("%s:%s", host, port.Port())

	t.Setenv("AWS_ACCESS_KEY_ID", minioUser)
	t.Setenv("AWS_SECRET_ACCESS_KEY", minioSecret)

	return &Minio{
		Container: server,
		Endpoint:  endpoint,
		BucketURL: fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
			bucket, endpoint),
	}
}

// makeBucket runs a one-shot mc container on the shared network.
func makeBucket(t *testing.T, ctx context.Context, netName, bucket string) {
	t.Helper()

	script := fmt.Sprintf("mc alias set local http://minio:9000 %s %s && mc mb --ignore-existing local/%s",
		minioUser, minioSecret, bucket)

	mc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      mcImage,
			Networks:   []string{netName},
			Entrypoint: []string{"/bin/sh", "-c"},
			Cmd:        []string{script},
			WaitingFor: wait.ForExit(),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	defer mc.Terminate(context.Background())
}
