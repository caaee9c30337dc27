package attendance

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"presence/internal/capture"
	"presence/internal/environment"
	"presence/internal/notify"
	"presence/internal/storage"
)

type upload struct {
	bucket, key string
	data        []byte
	opts        storage.UploadOptions
}

type fakeObjects struct {
	mu      sync.Mutex
	uploads []upload
	err     error
}

func (f *fakeObjects) Upload(_ context.Context, bucket, key string, body io.Reader, opts storage.UploadOptions) error {
	if f.err != nil {
		return f.err
	}
	data, _ := io.ReadAll(body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, upload{bucket, key, data, opts})
	return nil
}

func (f *fakeObjects) PublicURL(bucket, key string) string {
	return "https://cdn.example/" + bucket + "/" + key
}

type fakeLogs struct {
	mu      sync.Mutex
	records []Record
	err     error
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeLogs) Insert(_ context.Context, r Record) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Payload
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, p notify.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	return f.err
}

var (
	asha     = Identity{Ref: "42", Name: "Asha"}
	goodSnap = environment.Snapshot{Location: "12.9, 77.6", IPAddress: "203.0.113.5", ResolvedAt: time.Now()}
	fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 123_000_000, time.UTC)
)

func jpeg() *capture.Artifact {
	return capture.NewArtifact([]byte{0xff, 0xd8, 0xff}, "image/jpeg", 640, 480)
}

func newTestSubmitter(o *fakeObjects, l *fakeLogs, n notify.Notifier) *Submitter {
	s := NewSubmitter(o, l, n, Options{Bucket: "login-photos", CacheControl: "3600"}, zerolog.Nop())
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestSubmitRecordsSnapshotVerbatim(t *testing.T) {
	objects, logs, notifier := &fakeObjects{}, &fakeLogs{}, &fakeNotifier{}
	s := newTestSubmitter(objects, logs, notifier)

	rec, err := s.Submit(context.Background(), jpeg(), goodSnap, asha)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !s.Recorded() || s.InFlight() {
		t.Errorf("recorded=%v inFlight=%v", s.Recorded(), s.InFlight())
	}

	if len(objects.uploads) != 1 {
		t.Fatalf("uploads = %d", len(objects.uploads))
	}
	up := objects.uploads[0]
	wantKey := "login-42-1709285400123.jpg"
	if up.bucket != "login-photos" || up.key != wantKey {
		t.Errorf("upload target = %s/%s, want login-photos/%s", up.bucket, up.key, wantKey)
	}
	if up.opts.CacheControl != "3600" || up.opts.ContentType != "image/jpeg" {
		t.Errorf("upload opts = %+v", up.opts)
	}

	if len(logs.records) != 1 {
		t.Fatalf("records = %d", len(logs.records))
	}
	got := logs.records[0]
	if got != rec {
		t.Errorf("returned record differs from persisted one")
	}
	if got.Location != "12.9, 77.6" || got.IPAddress != "203.0.113.5" {
		t.Errorf("record fields = %q / %q", got.Location, got.IPAddress)
	}
	if got.Name != "Asha" || got.EmployeeID != "42" {
		t.Errorf("identity fields = %q / %q", got.Name, got.EmployeeID)
	}
	if got.PhotoURL != "https://cdn.example/login-photos/"+wantKey {
		t.Errorf("photo url = %s", got.PhotoURL)
	}
	if got.LoginTimeISO() != "2024-03-01T09:30:00.123Z" {
		t.Errorf("login time = %s", got.LoginTimeISO())
	}

	if len(notifier.sent) != 1 || notifier.sent[0].PhotoURL != got.PhotoURL {
		t.Errorf("notifications = %+v", notifier.sent)
	}
}

func TestSubmitRejectsDegradedSnapshot(t *testing.T) {
	tests := []struct {
		name string
		snap environment.Snapshot
	}{
		{"location timed out", environment.Snapshot{Location: environment.LocationUnavailable, IPAddress: "203.0.113.5"}},
		{"ip lookup failed", environment.Snapshot{Location: "12.9, 77.6", IPAddress: environment.AddressUnavailable}},
		{"both failed", environment.Snapshot{Location: environment.LocationUnavailable, IPAddress: environment.AddressUnavailable}},
		{"not settled", environment.Snapshot{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objects, logs, notifier := &fakeObjects{}, &fakeLogs{}, &fakeNotifier{}
			_, err := newTestSubmitter(objects, logs, notifier).Submit(context.Background(), jpeg(), tt.snap, asha)
			if !errors.Is(err, ErrEnvironmentUnavailable) {
				t.Fatalf("err = %v, want ErrEnvironmentUnavailable", err)
			}
			if len(objects.uploads) != 0 || len(logs.records) != 0 || len(notifier.sent) != 0 {
				t.Fatalf("side effects: uploads=%d records=%d notifications=%d",
					len(objects.uploads), len(logs.records), len(notifier.sent))
			}
		})
	}
}

func TestSubmitRequiresIdentity(t *testing.T) {
	for _, id := range []Identity{{}, {Ref: "42"}, {Name: "Asha"}, {Ref: " ", Name: "Asha"}} {
		objects, logs := &fakeObjects{}, &fakeLogs{}
		_, err := newTestSubmitter(objects, logs, nil).Submit(context.Background(), jpeg(), goodSnap, id)
		if !errors.Is(err, ErrAuthenticationRequired) {
			t.Errorf("identity %+v: err = %v", id, err)
		}
		if len(objects.uploads) != 0 {
			t.Errorf("identity %+v uploaded", id)
		}
	}
}

func TestSubmitUploadFailure(t *testing.T) {
	objects, logs, notifier := &fakeObjects{err: storage.ErrObjectExists}, &fakeLogs{}, &fakeNotifier{}
	s := newTestSubmitter(objects, logs, notifier)

	_, err := s.Submit(context.Background(), jpeg(), goodSnap, asha)
	if !errors.Is(err, ErrUploadFailure) || !errors.Is(err, storage.ErrObjectExists) {
		t.Fatalf("err = %v", err)
	}
	if len(logs.records) != 0 || len(notifier.sent) != 0 {
		t.Fatal("no record or notification expected after upload failure")
	}
	if s.InFlight() || s.Recorded() {
		t.Errorf("inFlight=%v recorded=%v", s.InFlight(), s.Recorded())
	}
}

func TestSubmitPersistFailureLeavesOrphan(t *testing.T) {
	objects, logs, notifier := &fakeObjects{}, &fakeLogs{err: errors.New("insert rejected")}, &fakeNotifier{}
	_, err := newTestSubmitter(objects, logs, notifier).Submit(context.Background(), jpeg(), goodSnap, asha)
	if !errors.Is(err, ErrRecordPersistFailure) {
		t.Fatalf("err = %v, want ErrRecordPersistFailure", err)
	}
	if len(objects.uploads) != 1 {
		t.Errorf("uploads = %d, want the orphaned photo to remain", len(objects.uploads))
	}
	if len(logs.records) != 0 || len(notifier.sent) != 0 {
		t.Error("no record or notification expected")
	}
}

func TestSubmitSucceedsWhenNotificationFails(t *testing.T) {
	notifier := &fakeNotifier{err: notify.ErrNotificationFailure}
	logs := &fakeLogs{}
	s := newTestSubmitter(&fakeObjects{}, logs, notifier)
	if _, err := s.Submit(context.Background(), jpeg(), goodSnap, asha); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(logs.records) != 1 || !s.Recorded() {
		t.Fatal("submission should be recorded despite the failed notification")
	}
}

func TestSubmitConcurrentCallsRecordOnce(t *testing.T) {
	logs := &fakeLogs{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := newTestSubmitter(&fakeObjects{}, logs, nil)
	art := jpeg()

	first := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), art, goodSnap, asha)
		first <- err
	}()
	<-logs.entered
	if !s.InFlight() {
		t.Fatal("submission should be in flight")
	}

	if _, err := s.Submit(context.Background(), art, goodSnap, asha); !errors.Is(err, ErrSubmissionInProgress) {
		t.Fatalf("concurrent submit err = %v", err)
	}
	close(logs.gate)
	if err := <-first; err != nil {
		t.Fatalf("first submit: %v", err)
	}

	if _, err := s.Submit(context.Background(), art, goodSnap, asha); !errors.Is(err, capture.ErrArtifactConsumed) {
		t.Fatalf("resubmitting the same capture err = %v", err)
	}
	if len(logs.records) != 1 {
		t.Fatalf("records = %d, want 1", len(logs.records))
	}
}

func TestSubmitRejectedAttemptsConsumeArtifact(t *testing.T) {
	objects, logs := &fakeObjects{}, &fakeLogs{}
	s := newTestSubmitter(objects, logs, nil)
	art := jpeg()

	degraded := environment.Snapshot{Location: environment.LocationUnavailable, IPAddress: "203.0.113.5"}
	if _, err := s.Submit(context.Background(), art, degraded, asha); !errors.Is(err, ErrEnvironmentUnavailable) {
		t.Fatalf("degraded submit err = %v", err)
	}
	if _, err := s.Submit(context.Background(), art, goodSnap, Identity{}); !errors.Is(err, capture.ErrArtifactConsumed) {
		t.Fatalf("second attempt err = %v, want ErrArtifactConsumed", err)
	}
	if _, err := s.Submit(context.Background(), art, goodSnap, asha); !errors.Is(err, capture.ErrArtifactConsumed) {
		t.Fatalf("retry with a settled snapshot err = %v, want ErrArtifactConsumed", err)
	}
	if len(logs.records) != 0 || len(objects.uploads) != 0 {
		t.Fatalf("records=%d uploads=%d, want none", len(logs.records), len(objects.uploads))
	}

	if _, err := s.Submit(context.Background(), jpeg(), goodSnap, asha); err != nil {
		t.Fatalf("fresh capture: %v", err)
	}
}

func TestObjectKeySanitizesRef(t *testing.T) {
	key := ObjectKey("a/b c", time.UnixMilli(5), "webp")
	if key != "login-a_b_c-5.webp" {
		t.Fatalf("key = %s", key)
	}
	if strings.Contains(key, "/") {
		t.Fatal("key must not contain path separators")
	}
}
