package resume

import (
	"fmt"
	"time"

	igerrors "igcrawl/pkg/errors"
	"igcrawl/pkg/iterator"
	"igcrawl/pkg/logger"
)

// PathFormat names a checkpoint after the iterator fingerprint it belongs to.
const PathFormat = "resume_info_%s.json"

// Store persists frozen cursor checkpoints. Load returns (nil, nil) when no
// checkpoint exists at the path; file and byte encoding are the store's
// concern. Stores may additionally implement Deleter to have completed
// crawls clean up after themselves.
type Store interface {
	Load(path string) (*iterator.FrozenCursor, error)
	Save(frozen *iterator.FrozenCursor, path string) error
}

// Deleter removes a checkpoint once a crawl completes.
type Deleter interface {
	Delete(path string) error
}

// Options tunes resumable iteration.
type Options struct {
	// CheckExpiry discards checkpoints whose best-before has passed.
	CheckExpiry bool
	Logger      logger.Logger
}

// Each receives one item together with whether the crawl resumed from a
// checkpoint and the index it started at, so progress can be reported
// correctly. Returning an abort-kind error checkpoints the crawl.
type Each[T any] func(item T, resuming bool, start int) error

// Iterate drives a cursor iterator with checkpoint support. A prior
// checkpoint is thawed when present and still valid; on an abort-kind
// failure the iterator is frozen and saved before the error is re-raised.
// All other errors pass through unchanged.
func Iterate[T any](it *iterator.CursorIterator[T], store Store, opts Options, each Each[T]) error {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	path := fmt.Sprintf(PathFormat, it.Fingerprint())

	resuming := false
	start := 0
	frozen, err := store.Load(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("could not read checkpoint, starting over")
	} else if frozen != nil {
		switch {
		case opts.CheckExpiry && !frozen.BestBefore.IsZero() && time.Now().After(frozen.BestBefore):
			log.WarnWithFields("checkpoint has expired, starting over", map[string]interface{}{
				"path":        path,
				"best_before": frozen.BestBefore,
			})
		default:
			if err := it.Thaw(frozen); err != nil {
				log.WithError(err).WithField("path", path).Warn("checkpoint does not match, starting over")
			} else {
				resuming = true
				start = it.TotalConsumed()
				log.InfoWithFields("resuming from checkpoint", map[string]interface{}{
					"path":  path,
					"start": start,
				})
			}
		}
	}

	for {
		item, err := it.Next()
		if err == iterator.ErrDone {
			break
		}
		if err != nil {
			return checkpointOnAbort(it, store, path, log, err)
		}
		if err := each(item, resuming, start); err != nil {
			return checkpointOnAbort(it, store, path, log, err)
		}
	}

	if deleter, ok := store.(Deleter); ok {
		if err := deleter.Delete(path); err != nil {
			log.WithError(err).WithField("path", path).Warn("could not delete completed checkpoint")
		}
	}
	return nil
}

// checkpointOnAbort freezes the crawl for deliberate cancellations only;
// every other failure is passed through untouched.
func checkpointOnAbort[T any](it *iterator.CursorIterator[T], store Store, path string, log logger.Logger, cause error) error {
	if !igerrors.IsKind(cause, igerrors.KindAbort) {
		return cause
	}
	if err := store.Save(it.Freeze(), path); err != nil {
		log.WithError(err).WithField("path", path).Error("could not save checkpoint on abort")
		return cause
	}
	log.InfoWithFields("progress frozen on abort", map[string]interface{}{
		"path":     path,
		"consumed": it.TotalConsumed(),
	})
	return cause
}
