package usecase

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/user/document-ingestion/internal/repository"
)

// ReconcileReport summarizes one orphan sweep.
type ReconcileReport struct {
	Scanned int
	Orphans []string
	Deleted int
}

// Reconciler finds stored objects that no document record points at. They are
// left behind when a process dies between upload and commit and the
// reference is never retried.
type Reconciler struct {
	objects   repository.ObjectLister
	documents repository.DocumentRepository
	prefix    string
	log       *zap.Logger
}

func NewReconciler(objects repository.ObjectLister, documents repository.DocumentRepository, prefix string, log *zap.Logger) *Reconciler {
	return &Reconciler{objects: objects, documents: documents, prefix: prefix, log: log.Named("reconciler")}
}

// Sweep lists every object under the content prefix and reports those without
// a record. With remove set, orphans are deleted.
func (r *Reconciler) Sweep(ctx context.Context, remove bool) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	err := r.objects.List(ctx, r.prefix+"/sha256/", func(key string) error {
		report.Scanned++
		ok, err := r.documents.ObjectKeyExists(ctx, key)
		if err != nil {
			return errors.Wrapf(err, "check object %s", key)
		}
		if ok {
			return nil
		}
		report.Orphans = append(report.Orphans, key)
		if !remove {
			return nil
		}
		if err := r.objects.Delete(ctx, key); err != nil {
			return errors.Wrapf(err, "delete orphan %s", key)
		}
		report.Deleted++
		r.log.Info("deleted orphan object", zap.String("key", key))
		return nil
	})
	if err != nil {
		return report, err
	}
	r.log.Info("sweep finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("orphans", len(report.Orphans)),
		zap.Int("deleted", report.Deleted))
	return report, nil
}
