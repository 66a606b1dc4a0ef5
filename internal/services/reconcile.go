package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"opsync/internal/models"
	"opsync/internal/repos"
	"opsync/internal/store"
)

var (
	// ErrMalformedRequest marks caller mistakes that retrying cannot fix.
	ErrMalformedRequest = errors.New("malformed request")
	// ErrSyncUnavailable means the backing store could not be reached and the
	// whole push or pull should be retried later. Nothing was accepted.
	ErrSyncUnavailable = errors.New("sync temporarily unavailable")
)

// Per-operation reject reasons reported in push results.
const (
	ReasonMissingID        = "missing_id"
	ReasonInvalidOperation = "invalid_operation"
	ReasonInvalidTimestamp = "invalid_timestamp"
	ReasonDuplicateInBatch = "duplicate_in_batch"
	ReasonStoreError       = "store_error"
)

// ReconcileService merges device mutation logs with the shared server log.
// It is the only component that reads across the operation log and the
// cursor tracker.
type ReconcileService struct {
	log     *repos.OperationLog
	cursors *repos.CursorTracker
	opTTL   time.Duration
	logger  logrus.FieldLogger
	now     func() time.Time
}

func NewReconcileService(log *repos.OperationLog, cursors *repos.CursorTracker, opTTL time.Duration, logger logrus.FieldLogger) *ReconcileService {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		logger = l
	}
	return &ReconcileService{
		log:     log,
		cursors: cursors,
		opTTL:   opTTL,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides server time. Test hook.
func (s *ReconcileService) SetClock(now func() time.Time) {
	s.now = now
}

// Push ingests a batch of device operations. Ingest is idempotent per id: a
// resubmitted operation is counted as accepted without a second stored
// effect. Within one batch the first occurrence of an id wins and later
// duplicates are rejected. A single failing write rejects only that item;
// when every write fails the push aborts with ErrSyncUnavailable.
//
// A push without a deviceId is accepted, but the cursor update is skipped.
func (s *ReconcileService) Push(ctx context.Context, deviceID, userID string, ops []models.Operation) (*models.PushResult, error) {
	if ops == nil {
		return nil, fmt.Errorf("%w: operations is required", ErrMalformedRequest)
	}

	res := &models.PushResult{Rejected: []models.RejectedOperation{}}
	seen := make(map[string]bool, len(ops))
	storeFailures := 0
	for _, op := range ops {
		op.ID = strings.TrimSpace(op.ID)
		if op.ID == "" {
			res.Rejected = append(res.Rejected, models.RejectedOperation{ID: op.ID, Reason: ReasonMissingID})
			continue
		}
		if !models.ValidOperationType(op.Operation) {
			res.Rejected = append(res.Rejected, models.RejectedOperation{ID: op.ID, Reason: ReasonInvalidOperation})
			continue
		}
		// A negative timestamp would sort before every possible watermark and
		// never be visible to a pull, so it is a caller mistake, not data.
		if op.Timestamp < 0 {
			res.Rejected = append(res.Rejected, models.RejectedOperation{ID: op.ID, Reason: ReasonInvalidTimestamp})
			continue
		}
		if seen[op.ID] {
			res.Rejected = append(res.Rejected, models.RejectedOperation{ID: op.ID, Reason: ReasonDuplicateInBatch})
			continue
		}
		seen[op.ID] = true

		if op.DeviceID == "" {
			op.DeviceID = deviceID
		}
		if op.UserID == "" {
			op.UserID = userID
		}

		stored, err := s.log.Put(ctx, op)
		if err != nil {
			s.logger.WithError(err).WithField("operation_id", op.ID).Warn("operation write failed")
			res.Rejected = append(res.Rejected, models.RejectedOperation{ID: op.ID, Reason: ReasonStoreError})
			if errors.Is(err, store.ErrUnavailable) {
				storeFailures++
			}
			continue
		}
		// A same-id resubmission still counts as accepted: the operation is
		// durably stored and the retry must look successful.
		if !stored {
			s.logger.WithField("operation_id", op.ID).Debug("duplicate operation ignored")
		}
		res.Accepted++
	}

	if attempted := len(seen); attempted > 0 && storeFailures == attempted {
		return nil, fmt.Errorf("%w: all %d writes failed", ErrSyncUnavailable, storeFailures)
	}

	if deviceID != "" {
		if err := s.cursors.Set(ctx, deviceID, s.now().UnixMilli()); err != nil {
			// Operations are already stored; a stale cursor only affects the
			// device's own future pulls, so the push still succeeds.
			s.logger.WithError(err).WithField("device_id", deviceID).Warn("cursor update failed after push")
		}
	}
	return res, nil
}

// Pull returns every live operation newer than since that the device did not
// author itself, plus the server time the client should persist as its next
// watermark. since comes from the caller rather than the stored cursor, so
// repeating a pull with the same since is safe.
func (s *ReconcileService) Pull(ctx context.Context, deviceID string, since int64) (*models.PullResult, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: deviceId is required", ErrMalformedRequest)
	}
	if since < 0 {
		since = 0
	}

	ops, err := s.log.ScanSince(ctx, since, deviceID)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
		}
		return nil, err
	}
	if ops == nil {
		ops = []models.Operation{}
	}

	nowMillis := s.now().UnixMilli()
	res := &models.PullResult{Operations: ops, ServerTime: nowMillis}

	// A watermark older than the retention window means operations may have
	// expired unseen. Only flag devices the server has synced before; a
	// first contact with since=0 is a normal initial sync.
	if s.opTTL > 0 && since < nowMillis-s.opTTL.Milliseconds() {
		_, known, err := s.cursors.Get(ctx, deviceID)
		if err != nil {
			s.logger.WithError(err).WithField("device_id", deviceID).Warn("cursor lookup failed during pull")
		} else if known {
			res.FullResyncRequired = true
		}
	}

	if err := s.cursors.Set(ctx, deviceID, nowMillis); err != nil {
		s.logger.WithError(err).WithField("device_id", deviceID).Warn("cursor update failed after pull")
	}
	return res, nil
}

// Acknowledge records that a device consumed an operation. It does not drive
// redelivery; unacknowledged operations are never re-sent.
func (s *ReconcileService) Acknowledge(ctx context.Context, deviceID, opID string) (bool, error) {
	opID = strings.TrimSpace(opID)
	if opID == "" {
		return false, fmt.Errorf("%w: operation id is required", ErrMalformedRequest)
	}
	if err := s.log.Acknowledge(ctx, opID, deviceID); err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return false, fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
		}
		return false, err
	}
	return true, nil
}
