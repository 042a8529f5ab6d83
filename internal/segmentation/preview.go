package segmentation

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"gorm.io/datatypes"

	"github.com/battycoda/battycoda/internal/audio"
	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/jobs"
	"github.com/battycoda/battycoda/internal/logger"
)

const (
	DefaultPreviewMaxSeconds = 60
	DefaultPreviewTTL        = 30 * time.Minute

	previewDir = "recordings/previews"
)

// Executor runs a job synchronously. *jobs.Runner implements it.
type Executor interface {
	Execute(ctx context.Context, job jobs.Job) error
}

// PreviewRequest asks for a segmentation of a short slice of a recording.
type PreviewRequest struct {
	RecordingID uint
	Start       float64 // seconds
	Duration    float64 // seconds, clamped to the preview maximum
	AlgorithmID uint
	Params      datatypes.JSON
	UserID      uint
}

// PreviewResult identifies the transient recording and its segmentation.
type PreviewResult struct {
	RecordingID    uint      `json:"recording_id"`
	SegmentationID uint      `json:"segmentation_id"`
	Start          float64   `json:"start"`
	Duration       float64   `json:"duration"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type previewEntry struct {
	recordingID uint
	audioPath   string
}

// Previews manages transient preview recordings. Each preview lives until
// Release or until its TTL expires, whichever comes first.
type Previews struct {
	engine     *Engine
	exec       Executor
	maxSeconds float64
	ttl        time.Duration
	items      *cache.Cache

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPreviews creates the preview service. Expired previews are swept every
// ttl/2 until Close.
func NewPreviews(engine *Engine, exec Executor, settings *conf.SegmentationSettings) *Previews {
	maxSeconds := settings.PreviewMaxSeconds
	if maxSeconds <= 0 || maxSeconds > DefaultPreviewMaxSeconds {
		maxSeconds = DefaultPreviewMaxSeconds
	}
	ttl := settings.PreviewTTL
	if ttl <= 0 {
		ttl = DefaultPreviewTTL
	}

	pv := &Previews{
		engine:     engine,
		exec:       exec,
		maxSeconds: maxSeconds,
		ttl:        ttl,
		items:      cache.New(ttl, 0),
		stop:       make(chan struct{}),
	}
	pv.items.OnEvicted(func(_ string, v any) {
		if entry, ok := v.(previewEntry); ok {
			pv.remove(entry)
		}
	})
	pv.wg.Add(1)
	go pv.sweep(max(ttl/2, time.Millisecond))
	return pv
}

func (pv *Previews) sweep(every time.Duration) {
	defer pv.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-pv.stop:
			return
		case <-ticker.C:
			pv.items.DeleteExpired()
		}
	}
}

func previewKey(recordingID uint) string {
	return strconv.FormatUint(uint64(recordingID), 10)
}

// Create cuts the slice, stores it as a hidden recording and runs the
// segmentation synchronously. A failed segmentation still returns the
// result together with the job error; the preview stays until released.
func (pv *Previews) Create(ctx context.Context, req PreviewRequest) (*PreviewResult, error) {
	src, err := pv.engine.store.GetRecording(ctx, req.RecordingID)
	if err != nil {
		return nil, err
	}
	if req.Start < 0 || req.Start >= src.Duration {
		return nil, invalidParams("preview start %.3fs is outside the recording (%.3fs)", req.Start, src.Duration)
	}
	duration := req.Duration
	if duration <= 0 || duration > pv.maxSeconds {
		duration = pv.maxSeconds
	}
	duration = min(duration, src.Duration-req.Start)

	clip, err := audio.Load(pv.engine.media, src.AudioPath, req.Start, duration)
	if err != nil {
		return nil, err
	}
	relPath := fmt.Sprintf("%s/%s.wav", previewDir, uuid.NewString())
	if err := audio.SaveWAV(pv.engine.media, relPath, clip.Samples, clip.SampleRate); err != nil {
		return nil, err
	}

	hidden := &entities.Recording{
		Name:       fmt.Sprintf("%s (preview %.1f-%.1fs)", src.Name, req.Start, req.Start+clip.Duration()),
		AudioPath:  relPath,
		SampleRate: clip.SampleRate,
		Duration:   clip.Duration(),
		Channels:   1,
		GroupID:    src.GroupID,
		SpeciesID:  src.SpeciesID,
		CreatedBy:  req.UserID,
		Hidden:     true,
	}
	if err := pv.engine.store.CreateRecording(ctx, hidden); err != nil {
		pv.removeFile(relPath)
		return nil, err
	}
	pv.items.Set(previewKey(hidden.ID), previewEntry{recordingID: hidden.ID, audioPath: relPath}, pv.ttl)

	algorithmID := req.AlgorithmID
	seg := &entities.Segmentation{
		Name:        "Preview",
		RecordingID: hidden.ID,
		AlgorithmID: &algorithmID,
		Params:      req.Params,
		CreatedBy:   req.UserID,
	}
	if err := pv.engine.store.CreateSegmentation(ctx, seg); err != nil {
		pv.items.Delete(previewKey(hidden.ID))
		return nil, err
	}

	result := &PreviewResult{
		RecordingID:    hidden.ID,
		SegmentationID: seg.ID,
		Start:          req.Start,
		Duration:       clip.Duration(),
		ExpiresAt:      time.Now().Add(pv.ttl),
	}
	GetLogger().Info("preview created",
		logger.Uint64("source_recording_id", uint64(src.ID)),
		logger.Uint64("preview_recording_id", uint64(hidden.ID)),
		logger.Float64("duration", result.Duration))

	return result, pv.exec.Execute(ctx, pv.engine.Job(seg.ID))
}

// Release deletes a preview now. Unknown ids are ignored.
func (pv *Previews) Release(recordingID uint) {
	pv.items.Delete(previewKey(recordingID))
}

// Active returns the number of live previews.
func (pv *Previews) Active() int {
	return pv.items.ItemCount()
}

// Close stops the sweeper and deletes every preview, expired or not.
func (pv *Previews) Close() {
	pv.closeOnce.Do(func() {
		close(pv.stop)
		pv.wg.Wait()
		pv.items.DeleteExpired()
		for key := range pv.items.Items() {
			pv.items.Delete(key)
		}
	})
}

func (pv *Previews) remove(entry previewEntry) {
	// Eviction runs outside any request.
	ctx := context.Background()
	if err := pv.engine.store.DeleteRecording(ctx, entry.recordingID); err != nil {
		GetLogger().Warn("failed to delete preview recording",
			logger.Uint64("recording_id", uint64(entry.recordingID)), logger.Error(err))
	}
	pv.removeFile(entry.audioPath)
}

func (pv *Previews) removeFile(relPath string) {
	if err := pv.engine.media.Remove(relPath); err != nil {
		GetLogger().Warn("failed to delete preview audio", logger.String("path", relPath), logger.Error(err))
	}
}
