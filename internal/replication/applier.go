package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/effect"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/rules"
	apperrors "github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/resilience"
)

// Applier replays records against a replica engine.
type Applier struct {
	engine  *indexer.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu   sync.Mutex
	last map[string]uint64
}

func NewApplier(engine *indexer.Engine, m *metrics.Metrics) *Applier {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Applier{
		engine:  engine,
		metrics: m,
		logger:  logger.WithComponent("replication-applier"),
		last:    make(map[string]uint64),
	}
}

// HandleMessage returns a Kafka MessageHandler that applies each envelope.
// Undecodable messages are logged and skipped.
func (a *Applier) HandleMessage() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		env, err := kafka.DecodeJSON[Envelope](value)
		if err != nil {
			a.logger.Error("failed to decode replication envelope",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		return a.ApplyEnvelope(ctx, env)
	}
}

// ApplyEnvelope applies env unless its sequence number was already seen
// from the same origin. A transient failure leaves the sequence number
// unconsumed so the record can be retried; any other failure consumes it
// and is returned as permanent.
func (a *Applier) ApplyEnvelope(ctx context.Context, env Envelope) error {
	if env.Record == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if env.Seq <= a.last[env.Origin] {
		a.metrics.ReplicationTotal.WithLabelValues("duplicate").Inc()
		a.logger.Debug("skipping redelivered record", "origin", env.Origin, "seq", env.Seq)
		return nil
	}

	err := a.Apply(ctx, env.Record)
	if err != nil {
		a.metrics.ReplicationTotal.WithLabelValues("apply_failed").Inc()
		err = fmt.Errorf("applying %s (seq %d): %w", env.Record.Command, env.Seq, err)
		if transient(err) {
			return err
		}
		a.last[env.Origin] = env.Seq
		return resilience.Permanent(err)
	}
	a.last[env.Origin] = env.Seq
	a.metrics.ReplicationTotal.WithLabelValues("applied").Inc()
	return nil
}

func transient(err error) bool {
	return errors.Is(err, apperrors.ErrUnavailable) || errors.Is(err, apperrors.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Apply replays one record.
func (a *Applier) Apply(ctx context.Context, rec *effect.Record) error {
	args := rec.Args
	need := func(n int) error {
		if len(args) < n {
			return apperrors.Newf(apperrors.ErrInvalidInput, 400, "%s needs %d arguments, got %d", rec.Command, n, len(args))
		}
		return nil
	}
	var err error
	switch rec.Command {
	case effect.CmdCreate:
		if err = need(1); err != nil {
			return err
		}
		var fields []index.Field
		if len(rec.Body) > 0 {
			if err = json.Unmarshal(rec.Body, &fields); err != nil {
				return fmt.Errorf("decoding schema: %w", err)
			}
		}
		_, err = a.engine.CreateIndex(ctx, args[0], fields, hasFlag(args[1:], "WITHRULES"))
		if errors.Is(err, apperrors.ErrIndexExists) {
			// Already present from the snapshot the replica started from.
			return nil
		}
	case effect.CmdDrop:
		if err = need(1); err != nil {
			return err
		}
		_, err = a.engine.DropIndex(ctx, args[0], hasFlag(args[1:], effect.FlagKeepDocs))
	case effect.CmdAdd:
		if err = need(2); err != nil {
			return err
		}
		var req indexer.AddRequest
		if err = json.Unmarshal(rec.Body, &req); err != nil {
			return fmt.Errorf("decoding document: %w", err)
		}
		req.Key = args[1]
		req.Replace = req.Replace || hasFlag(args[2:], effect.FlagReplace)
		_, err = a.engine.AddDocument(ctx, args[0], req)
	case effect.CmdSetPayload:
		if err = need(2); err != nil {
			return err
		}
		_, err = a.engine.SetPayload(ctx, args[0], args[1], rec.Body)
	case effect.CmdDel:
		if err = need(2); err != nil {
			return err
		}
		_, err = a.engine.Delete(ctx, args[0], args[1], hasFlag(args[2:], effect.FlagDeleteDocument))
	case effect.CmdAliasAdd:
		if err = need(2); err != nil {
			return err
		}
		_, err = a.engine.AliasAdd(ctx, args[0], args[1])
	case effect.CmdAliasDel:
		if err = need(1); err != nil {
			return err
		}
		_, err = a.engine.AliasDel(ctx, args[0])
	case effect.CmdAliasUpdate:
		if err = need(2); err != nil {
			return err
		}
		_, err = a.engine.AliasUpdate(ctx, args[0], args[1])
	case effect.CmdSynUpdate, effect.CmdSynForceUpdate:
		if err = need(3); err != nil {
			return err
		}
		id, perr := strconv.ParseUint(args[1], 10, 32)
		if perr != nil {
			return apperrors.Newf(apperrors.ErrInvalidInput, 400, "synonym group id %q: %v", args[1], perr)
		}
		if rec.Command == effect.CmdSynUpdate {
			_, err = a.engine.SynUpdate(ctx, args[0], uint32(id), args[2:])
		} else {
			_, err = a.engine.SynForceUpdate(ctx, args[0], uint32(id), args[2:])
		}
	case effect.CmdRuleAdd:
		if err = need(4); err != nil {
			return err
		}
		rule := rules.Rule{Name: args[1], Type: rules.MatchType(args[2]), Expr: args[3]}
		if len(args) >= 6 && args[4] == "SCORE" {
			score, perr := strconv.ParseFloat(args[5], 64)
			if perr != nil {
				return apperrors.Newf(apperrors.ErrInvalidInput, 400, "rule score %q: %v", args[5], perr)
			}
			rule.Score = score
		}
		_, err = a.engine.RuleAdd(ctx, args[0], rule)
	default:
		a.logger.Warn("ignoring unknown replication command", "command", rec.Command)
		return nil
	}
	if err == nil {
		a.logger.Debug("record applied", "record", rec.String())
	}
	return err
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if strings.EqualFold(a, flag) {
			return true
		}
	}
	return false
}
