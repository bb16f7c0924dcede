package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/config"
	"github.com/trailmark/backend/internal/services"
)

// Eventarc delivers CloudEvents; for GCS finalized events the body carries
// object info. Minimal fields we need: bucket, name, metadata.
type gcsFinalizeEvent struct {
	Bucket   string            `json:"bucket"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata"`
}

// cloudEventEnvelope handles Eventarc structured content mode where the GCS
// payload is nested inside a "data" field.
type cloudEventEnvelope struct {
	Data gcsFinalizeEvent `json:"data"`
}

// worker runs the two background jobs: event-driven moderation of
// client-direct uploads, and periodic purge of expired pins.
type worker struct {
	cfg     *config.Config
	pins    *services.MongoPinService
	actions *services.ModerationActions
	mod     *services.ModerationService
	log     *zap.SugaredLogger
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	log := logger.Sugar()

	cfg := config.Load()
	if cfg.MongoURI == "" {
		log.Fatal("[worker] MONGODB_URI is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pinSvc, err := services.NewMongoPinService(ctx, cfg.MongoURI, cfg.MongoDB, log)
	if err != nil {
		log.Fatalf("[worker] mongo pin service init failed: %v", err)
	}
	profSvc, err := services.NewMongoProfileService(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		log.Fatalf("[worker] mongo profile service init failed: %v", err)
	}
	flagSvc, err := services.NewMongoUserFlagService(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		log.Fatalf("[worker] mongo user_flags service init failed: %v", err)
	}

	var modSvc *services.ModerationService
	if cfg.StorageBucket != "" {
		modSvc, err = services.NewModerationService(context.Background(), cfg.StorageBucket, flagSvc)
		if err != nil {
			log.Warnf("[worker] moderation service init failed, GCS cleanup disabled: %v", err)
		}
	}

	w := &worker{
		cfg:  cfg,
		pins: pinSvc,
		actions: &services.ModerationActions{
			Pins:     pinSvc,
			Profiles: profSvc,
			Flags:    flagSvc,
		},
		mod: modSvc,
		log: log,
	}

	go w.expiryLoop(context.Background())

	http.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	http.HandleFunc("/events", w.handleFinalize)

	addr := cfg.ServerAddress
	log.Infof("[worker] listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[worker] server failed: %v", err)
	}
}

// expiryLoop purges pins whose expiry has passed and cleans up their photos
// in storage. Pin documents go last so a crash mid-cleanup retries the
// object deletes on the next tick.
func (w *worker) expiryLoop(ctx context.Context) {
	interval := w.cfg.PinExpiryInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tickCtx, cancel := context.WithTimeout(ctx, interval)
		w.purgeExpiredOnce(tickCtx)
		cancel()
	}
}

func (w *worker) purgeExpiredOnce(ctx context.Context) {
	expired, err := w.pins.FindExpired(ctx, 500)
	if err != nil {
		w.log.Warnf("[worker] find expired pins failed: %v", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	if w.mod != nil {
		for _, pin := range expired {
			for _, photoURL := range pin.ImageURLs {
				name, ok := objectNameFromURL(w.cfg.StorageBucket, photoURL)
				if !ok {
					continue
				}
				if err := w.mod.DeleteObject(ctx, name); err != nil {
					w.log.Warnf("[worker] delete photo failed pin=%s object=%s: %v", pin.ID, name, err)
				}
			}
		}
	}

	n, err := w.pins.PurgeExpired(ctx)
	if err != nil {
		w.log.Warnf("[worker] purge expired pins failed: %v", err)
		return
	}
	w.log.Infof("[worker] purged %d expired pins", n)
}

// handleFinalize moderates one client-direct upload. Clients writing
// straight to Firebase Storage land objects under pending/ with userId,
// pinId and type metadata; Eventarc posts the finalize event here.
func (w *worker) handleFinalize(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		w.log.Warnf("[worker] read event body failed: %v", err)
		http.Error(rw, "bad request", http.StatusBadRequest)
		return
	}

	var ev gcsFinalizeEvent
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		w.log.Warnf("[worker] decode event body failed: %v", err)
		http.Error(rw, "bad request", http.StatusBadRequest)
		return
	}
	// Structured content mode nests the GCS payload under "data".
	if ev.Bucket == "" || ev.Name == "" {
		var envelope cloudEventEnvelope
		if err := json.Unmarshal(rawBody, &envelope); err == nil && envelope.Data.Name != "" {
			ev = envelope.Data
		}
	}

	if ev.Bucket == "" || ev.Name == "" {
		w.log.Debugw("[worker] skipping event with empty bucket or name")
		rw.WriteHeader(http.StatusOK)
		return
	}
	if !strings.HasPrefix(ev.Name, "pending/") {
		rw.WriteHeader(http.StatusOK)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	// Finalize events sometimes omit metadata; fall back to object attrs.
	if ev.Metadata == nil || (ev.Metadata["userId"] == "" && ev.Metadata["type"] == "") {
		if meta, err := fetchObjectMetadata(ctx, ev.Bucket, ev.Name); err != nil {
			w.log.Warnf("[worker] fetch object metadata failed name=%s: %v", ev.Name, err)
		} else {
			ev.Metadata = meta
		}
	}

	userID := ev.Metadata["userId"]
	typ := ev.Metadata["type"]

	gcsURI := fmt.Sprintf("gs://%s/%s", ev.Bucket, ev.Name)
	ss, err := services.DetectSafeSearch(ctx, gcsURI)
	if err != nil {
		w.log.Warnf("[worker] safesearch failed name=%s: %v", ev.Name, err)
		// 500 makes Eventarc retry.
		http.Error(rw, "safesearch failed", http.StatusInternalServerError)
		return
	}

	if ss.IsUnsafe() {
		w.log.Infow("[worker] image rejected",
			"name", ev.Name, "user_id", userID, "type", typ)

		if err := deleteObject(ctx, ev.Bucket, ev.Name); err != nil {
			w.log.Warnf("[worker] delete unsafe object failed name=%s: %v", ev.Name, err)
			http.Error(rw, "delete failed", http.StatusInternalServerError)
			return
		}
		if err := w.actions.RejectPending(ctx, userID, typ, ev.Name); err != nil {
			w.log.Warnf("[worker] reject pending failed name=%s: %v", ev.Name, err)
		}
		rw.WriteHeader(http.StatusOK)
		return
	}

	// Safe: promote out of pending/ and swap references to the download URL.
	finalName := strings.TrimPrefix(ev.Name, "pending/")
	token := newToken()
	approvedURL := firebaseDownloadURL(ev.Bucket, finalName, token)

	if err := promoteObject(ctx, ev.Bucket, ev.Name, finalName, ev.Metadata, token); err != nil {
		w.log.Warnf("[worker] promote failed from=%s to=%s: %v", ev.Name, finalName, err)
		http.Error(rw, "promote failed", http.StatusInternalServerError)
		return
	}
	if err := w.actions.ApprovePending(ctx, typ, ev.Name, approvedURL); err != nil {
		w.log.Warnf("[worker] approve pending failed name=%s: %v", ev.Name, err)
	}

	w.log.Infow("[worker] image approved",
		"name", ev.Name, "approved_url", approvedURL, "type", typ)
	rw.WriteHeader(http.StatusOK)
}

func fetchObjectMetadata(ctx context.Context, bucket, name string) (map[string]string, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	defer client.Close()

	attrs, err := client.Bucket(bucket).Object(name).Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("object attrs: %w", err)
	}
	return attrs.Metadata, nil
}

func deleteObject(ctx context.Context, bucket, name string) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Bucket(bucket).Object(name).Delete(ctx)
}

func promoteObject(ctx context.Context, bucket, from, to string, originalMeta map[string]string, token string) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	b := client.Bucket(bucket)
	src := b.Object(from)
	dst := b.Object(to)

	md := map[string]string{}
	for k, v := range originalMeta {
		md[k] = v
	}
	md["moderation"] = "approved"
	md["firebaseStorageDownloadTokens"] = token

	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return err
	}
	if _, err := dst.Update(ctx, storage.ObjectAttrsToUpdate{Metadata: md}); err != nil {
		return err
	}
	return src.Delete(ctx)
}

func newToken() string {
	// Firebase download token is an arbitrary string.
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), os.Getpid())
}

func firebaseDownloadURL(bucket, objectName, token string) string {
	return fmt.Sprintf(
		"https://firebasestorage.googleapis.com/v0/b/%s/o/%s?alt=media&token=%s",
		bucket,
		url.PathEscape(objectName),
		url.QueryEscape(token),
	)
}

// objectNameFromURL recovers the storage object name from a Firebase
// download URL. Returns false for URLs pointing at other buckets or local
// uploads.
func objectNameFromURL(bucket, rawURL string) (string, bool) {
	if bucket == "" {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host != "firebasestorage.googleapis.com" {
		return "", false
	}
	prefix := fmt.Sprintf("/v0/b/%s/o/", bucket)
	if !strings.HasPrefix(u.Path, prefix) {
		return "", false
	}
	name, err := url.PathUnescape(strings.TrimPrefix(u.Path, prefix))
	if err != nil || name == "" {
		return "", false
	}
	return name, true
}
