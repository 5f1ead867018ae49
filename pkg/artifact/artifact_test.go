package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
)

func openBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

var fixedTime = time.Date(2025, 8, 13, 10, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T, bucket *blob.Bucket) *Store {
	return NewStore(bucket, WithPrefix("/exports/"), WithClock(func() time.Time { return fixedTime }))
}

func TestSave(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	store := newTestStore(t, bucket)

	data := []byte(strings.Repeat("r", 120))
	m, err := store.Save(ctx, Artifact{
		Name:     "RevenueAnalysis_2025-08-13.csv",
		Data:     data,
		MIMEType: "text/csv",
		Metadata: map[string]string{"format": "csv", "analysis_ids": "rev-1"},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	sum := sha256.Sum256(data)
	if m.Object != "exports/RevenueAnalysis_2025-08-13.csv" {
		t.Errorf("unexpected object key %s", m.Object)
	}
	if m.Size != 120 {
		t.Errorf("expected size 120, got %d", m.Size)
	}
	if m.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("unexpected checksum %s", m.Checksum)
	}
	if !m.CreatedAt.Equal(fixedTime) {
		t.Errorf("unexpected created_at %v", m.CreatedAt)
	}

	got, err := bucket.ReadAll(ctx, m.Object)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(data) {
		t.Error("stored bytes differ")
	}

	attrs, err := bucket.Attributes(ctx, m.Object)
	if err != nil {
		t.Fatalf("Attributes: %v", err)
	}
	if attrs.ContentType != "text/csv" {
		t.Errorf("expected content type text/csv, got %s", attrs.ContentType)
	}

	raw, err := bucket.ReadAll(ctx, m.Object+ManifestSuffix)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var stored Manifest
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if stored.Metadata["analysis_ids"] != "rev-1" {
		t.Errorf("metadata not persisted: %v", stored.Metadata)
	}
}

func TestSaveInvalidName(t *testing.T) {
	store := newTestStore(t, openBucket(t))

	for _, name := range []string{"", ".", "..", "a/b.csv", `a\b.csv`} {
		_, err := store.Save(context.Background(), Artifact{Name: name, Data: []byte("x")})
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("Save(%q): expected ErrInvalidName, got %v", name, err)
		}
	}
}

func TestSaveCancelled(t *testing.T) {
	bucket := openBucket(t)
	store := newTestStore(t, bucket)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Save(ctx, Artifact{Name: "x.csv", Data: []byte("a,b")}); err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
	if ok, _ := bucket.Exists(context.Background(), "exports/x.csv"+ManifestSuffix); ok {
		t.Error("manifest written for a cancelled save")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, openBucket(t))

	if _, err := store.Save(ctx, Artifact{Name: "report.pdf", Data: []byte("%PDF"), MIMEType: "application/pdf"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r, m, err := store.Open(ctx, "report.pdf")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "%PDF" {
		t.Errorf("unexpected body %q", body)
	}
	if m.MIMEType != "application/pdf" {
		t.Errorf("unexpected MIME %s", m.MIMEType)
	}

	if _, _, err := store.Open(ctx, "missing.pdf"); !IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	store := newTestStore(t, bucket)

	if _, err := store.Save(ctx, Artifact{Name: "ok.csv", Data: []byte("a,b\n1,2\n")}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	result, err := store.Validate(ctx, "ok.csv")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid, got invalid: %v", result.Errors)
	}
	if result.Size != 8 {
		t.Errorf("expected size 8, got %d", result.Size)
	}
}

func TestValidateMissingObject(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	store := newTestStore(t, bucket)

	if _, err := store.Save(ctx, Artifact{Name: "gone.csv", Data: []byte("a")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := bucket.Delete(ctx, "exports/gone.csv"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	result, err := store.Validate(ctx, "gone.csv")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid || !result.Missing {
		t.Errorf("expected missing object, got %+v", result)
	}
}

func TestValidateSizeMismatch(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	store := newTestStore(t, bucket)

	if _, err := store.Save(ctx, Artifact{Name: "short.csv", Data: []byte("abc")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := bucket.WriteAll(ctx, "exports/short.csv", []byte("ab"), nil); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	result, err := store.Validate(ctx, "short.csv")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid || !result.SizeMismatch {
		t.Errorf("expected size mismatch, got %+v", result)
	}
}

func TestValidateChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	store := newTestStore(t, bucket)

	if _, err := store.Save(ctx, Artifact{Name: "tampered.csv", Data: []byte("abc")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := bucket.WriteAll(ctx, "exports/tampered.csv", []byte("xyz"), nil); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	result, err := store.Validate(ctx, "tampered.csv")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid || !result.ChecksumMismatch {
		t.Errorf("expected checksum mismatch, got %+v", result)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 error, got %v", result.Errors)
	}
}

func TestValidateNoManifest(t *testing.T) {
	store := newTestStore(t, openBucket(t))

	_, err := store.Validate(context.Background(), "nothing.csv")
	if !IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	store := newTestStore(t, bucket)

	if _, err := store.Save(ctx, Artifact{Name: "old.csv", Data: []byte("abc")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(ctx, "old.csv"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	for _, key := range []string{"exports/old.csv", "exports/old.csv" + ManifestSuffix} {
		if ok, _ := bucket.Exists(ctx, key); ok {
			t.Errorf("%s still exists", key)
		}
	}

	if err := store.Delete(ctx, "old.csv"); !IsNotExist(err) {
		t.Errorf("expected not-exist error on second delete, got %v", err)
	}
}

func TestDeleteWithoutObject(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	store := newTestStore(t, bucket)

	if _, err := store.Save(ctx, Artifact{Name: "half.csv", Data: []byte("abc")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := bucket.Delete(ctx, "exports/half.csv"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if err := store.Delete(ctx, "half.csv"); err != nil {
		t.Errorf("Delete: %v", err)
	}
}

func TestKey(t *testing.T) {
	bucket := openBucket(t)

	if got := NewStore(bucket).Key("a.csv"); got != "a.csv" {
		t.Errorf("got %s", got)
	}
	if got := NewStore(bucket, WithPrefix("x/y/")).Key("a.csv"); got != "x/y/a.csv" {
		t.Errorf("got %s", got)
	}
}

func TestSaveWithIDKeepsEqualNamesApart(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	store := newTestStore(t, bucket)

	for _, id := range []string{"dl-1", "dl-2"} {
		m, err := store.Save(ctx, Artifact{
			ID:       id,
			Name:     "RevenueAnalysis_2025-08-13.csv",
			Data:     []byte("body-of-" + id),
			Metadata: map[string]string{"download_id": id},
		})
		if err != nil {
			t.Fatalf("Save(%s): %v", id, err)
		}
		if want := "exports/" + id + "/RevenueAnalysis_2025-08-13.csv"; m.Object != want {
			t.Errorf("expected object %s, got %s", want, m.Object)
		}
	}

	for _, id := range []string{"dl-1", "dl-2"} {
		ref := Ref(id, "RevenueAnalysis_2025-08-13.csv")
		r, m, err := store.Open(ctx, ref)
		if err != nil {
			t.Fatalf("Open(%s): %v", ref, err)
		}
		body, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		if string(body) != "body-of-"+id {
			t.Errorf("%s: unexpected body %q", ref, body)
		}
		if m.Metadata["download_id"] != id {
			t.Errorf("%s: manifest belongs to %s", ref, m.Metadata["download_id"])
		}
	}

	if err := store.Delete(ctx, Ref("dl-1", "RevenueAnalysis_2025-08-13.csv")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	result, err := store.Validate(ctx, Ref("dl-2", "RevenueAnalysis_2025-08-13.csv"))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.Valid {
		t.Errorf("deleting dl-1 affected dl-2: %v", result.Errors)
	}
}

func TestRef(t *testing.T) {
	if got := Ref("", "a.csv"); got != "a.csv" {
		t.Errorf("got %s", got)
	}
	if got := Ref("dl-1", "a.csv"); got != "dl-1/a.csv" {
		t.Errorf("got %s", got)
	}
}

func TestInvalidRefs(t *testing.T) {
	store := newTestStore(t, openBucket(t))

	for _, ref := range []string{"", "/a.csv", "dl-1/", "../a.csv", "a/b/c.csv", `dl-1/a\b.csv`} {
		if _, err := store.Manifest(context.Background(), ref); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Manifest(%q): expected ErrInvalidName, got %v", ref, err)
		}
	}
	for _, id := range []string{"..", "a/b"} {
		_, err := store.Save(context.Background(), Artifact{ID: id, Name: "x.csv", Data: []byte("x")})
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("Save(ID %q): expected ErrInvalidName, got %v", id, err)
		}
	}
}
