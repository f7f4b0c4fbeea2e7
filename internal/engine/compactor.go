package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keepsakehq/keepsake/internal/storage"
	"github.com/keepsakehq/keepsake/pkg/types"
)

const (
	// DefaultMinClusterSize is the minimum number of Active records a topic
	// needs before it is eligible for compaction.
	DefaultMinClusterSize = 3

	// DefaultMinAgeDays is the minimum age every cluster member must reach
	// before the cluster is compacted. Keeps topics that are still being
	// actively discussed out of compaction.
	DefaultMinAgeDays = 7.0
)

// CompactorConfig holds the compaction trigger thresholds.
type CompactorConfig struct {
	// MinClusterSize is the minimum cluster size. Values < 2 fall back to
	// DefaultMinClusterSize.
	MinClusterSize int

	// MinAgeDays is the minimum member age in days. Values <= 0 fall back to
	// DefaultMinAgeDays.
	MinAgeDays float64
}

func (c *CompactorConfig) normalize() {
	if c.MinClusterSize < 2 {
		c.MinClusterSize = DefaultMinClusterSize
	}
	if c.MinAgeDays <= 0 {
		c.MinAgeDays = DefaultMinAgeDays
	}
}

// ClusterFailure records one cluster whose compaction failed. Other clusters
// in the same run are unaffected.
type ClusterFailure struct {
	// TopicID identifies the failed cluster.
	TopicID string `json:"topic_id"`

	// Message describes what failed, in CLUSTER_WRITE_FAILED terms.
	Message string `json:"message"`
}

// CompactionReport summarizes one compaction run. The engine always reports,
// never silently.
type CompactionReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// ClustersExamined counts topics with at least one Active record that
	// were considered.
	ClustersExamined int `json:"clusters_examined"`

	// ClustersSkipped counts examined clusters that did not meet the size or
	// age trigger.
	ClustersSkipped int `json:"clusters_skipped"`

	// ClustersCompacted counts clusters fully compacted (consolidated record
	// written and every member flipped).
	ClustersCompacted int `json:"clusters_compacted"`

	// ConsolidatedCreated counts new Consolidated records written. It can
	// exceed ClustersCompacted when a cluster's consolidated record was
	// written but some member flips failed.
	ConsolidatedCreated int `json:"consolidated_created"`

	// ConflictsFlagged counts contradictory decision pairs annotated across
	// all compacted clusters.
	ConflictsFlagged int `json:"conflicts_flagged"`

	// Failures lists clusters whose compaction failed.
	Failures []ClusterFailure `json:"failures,omitempty"`
}

// Compactor reduces redundant Active records per topic into one authoritative
// Consolidated record. Runs out-of-band from retrieval, on an explicit
// trigger or a schedule; each run is independent and reports its outcome.
type Compactor struct {
	store    storage.Store
	detector ConflictDetector
	cfg      CompactorConfig
	log      zerolog.Logger
	now      func() time.Time
}

// NewCompactor creates a Compactor over the given store. A nil detector
// falls back to the default keyword heuristic.
func NewCompactor(store storage.Store, detector ConflictDetector, cfg CompactorConfig, log zerolog.Logger) *Compactor {
	if detector == nil {
		detector = NewKeywordConflictDetector()
	}
	cfg.normalize()
	return &Compactor{
		store:    store,
		detector: detector,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the compactor's clock. Tests only.
func (c *Compactor) SetClock(now func() time.Time) { c.now = now }

// Compact runs one compaction pass. When topicFilter is non-empty the run is
// scoped to that single topic. A cluster failure never aborts the run; it is
// recorded in the report and remaining clusters proceed.
//
// The returned error is non-nil only when the run could not start at all
// (topic listing failed); per-cluster problems live in report.Failures.
func (c *Compactor) Compact(ctx context.Context, topicFilter string) (*CompactionReport, error) {
	report := &CompactionReport{StartedAt: c.now().UTC()}
	defer func() { report.FinishedAt = c.now().UTC() }()

	topics, err := c.listTopics(ctx, topicFilter)
	if err != nil {
		return nil, fmt.Errorf("compact: listing active topics: %w", err)
	}

	for _, topicID := range topics {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		members, err := c.store.ListActiveByTopic(ctx, topicID)
		if err != nil {
			report.Failures = append(report.Failures, ClusterFailure{
				TopicID: topicID,
				Message: fmt.Sprintf("listing cluster members: %v", err),
			})
			continue
		}
		if len(members) == 0 {
			continue
		}
		report.ClustersExamined++

		if !c.eligible(members) {
			report.ClustersSkipped++
			continue
		}

		c.compactCluster(ctx, topicID, members, report)
	}

	c.log.Info().
		Int("clusters_examined", report.ClustersExamined).
		Int("clusters_compacted", report.ClustersCompacted).
		Int("consolidated_created", report.ConsolidatedCreated).
		Int("conflicts_flagged", report.ConflictsFlagged).
		Int("failures", len(report.Failures)).
		Str("topic_filter", topicFilter).
		Msg("compaction run finished")

	return report, nil
}

func (c *Compactor) listTopics(ctx context.Context, topicFilter string) ([]string, error) {
	if topicFilter != "" {
		return []string{topicFilter}, nil
	}
	return c.store.ListActiveTopics(ctx)
}

// eligible reports whether a cluster meets the compaction trigger: at least
// MinClusterSize members, every member older than MinAgeDays.
func (c *Compactor) eligible(members []types.MemoryRecord) bool {
	if len(members) < c.cfg.MinClusterSize {
		return false
	}
	cutoff := c.now().Add(-time.Duration(c.cfg.MinAgeDays * float64(24) * float64(time.Hour)))
	for i := range members {
		if members[i].CreatedAt.After(cutoff) {
			return false
		}
	}
	return true
}

// compactCluster merges one eligible cluster, writes the consolidated record,
// then flips member statuses. Write-then-flip ordering: the durable fact (the
// new consolidated record) must exist before any member's status changes, so
// a crash mid-way leaves extra Active records rather than orphaned
// Superseded ones.
func (c *Compactor) compactCluster(ctx context.Context, topicID string, members []types.MemoryRecord, report *CompactionReport) {
	merged, conflicts := c.merge(members)

	id, err := c.store.Append(ctx, merged)
	if err != nil {
		report.Failures = append(report.Failures, ClusterFailure{
			TopicID: topicID,
			Message: fmt.Sprintf("writing consolidated record: %v", err),
		})
		return
	}
	report.ConsolidatedCreated++
	report.ConflictsFlagged += len(conflicts)

	// Flip every member. Flips are idempotent and individually atomic, so a
	// partial failure here is retryable on the next run.
	flipFailed := false
	for i := range members {
		if err := c.store.SetStatus(ctx, members[i].ID, types.StatusSuperseded, id); err != nil {
			flipFailed = true
			report.Failures = append(report.Failures, ClusterFailure{
				TopicID: topicID,
				Message: fmt.Sprintf("flipping record %s to superseded: %v", members[i].ID, err),
			})
		}
	}
	if flipFailed {
		return
	}

	report.ClustersCompacted++
	c.log.Debug().
		Str("topic_id", topicID).
		Str("consolidated_id", id).
		Int("members", len(members)).
		Int("conflicts", len(conflicts)).
		Msg("cluster compacted")
}

// merge unions the cluster's list fields in first-seen order with
// de-duplication, annotates conflicting decisions, and builds the new
// consolidated record. CreatedAt is the earliest member's creation time so
// true history is preserved; UpdatedAt is now.
func (c *Compactor) merge(members []types.MemoryRecord) (*types.MemoryRecord, []Conflict) {
	// Members arrive ordered by created_at ascending; sort defensively so
	// first-seen order and the earliest timestamp do not depend on the store.
	ordered := make([]types.MemoryRecord, len(members))
	copy(ordered, members)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	var decisions, rationale, openQuestions, references, summaries []string
	for i := range ordered {
		decisions = appendUnique(decisions, ordered[i].Decisions)
		rationale = appendUnique(rationale, ordered[i].Rationale)
		openQuestions = appendUnique(openQuestions, ordered[i].OpenQuestions)
		references = appendUnique(references, ordered[i].References)
		if s := strings.TrimSpace(ordered[i].SummaryText); s != "" {
			summaries = append(summaries, s)
		}
	}

	conflicts := c.detector.Detect(decisions)
	decisions = annotateConflicts(decisions, conflicts)

	now := c.now().UTC()
	return &types.MemoryRecord{
		ID:            uuid.NewString(),
		TopicID:       ordered[0].TopicID,
		PlanID:        firstNonEmptyPlan(ordered),
		Status:        types.StatusConsolidated,
		CreatedAt:     ordered[0].CreatedAt,
		UpdatedAt:     now,
		SummaryText:   consolidatedSummary(ordered[0].TopicID, len(ordered), summaries),
		Decisions:     decisions,
		Rationale:     rationale,
		OpenQuestions: openQuestions,
		References:    references,
	}, conflicts
}

// annotateConflicts tags both sides of each flagged pair with explicit
// ordering markers. Neither decision is dropped; a human or downstream agent
// resolves the ambiguity.
func annotateConflicts(decisions []string, conflicts []Conflict) []string {
	if len(conflicts) == 0 {
		return decisions
	}
	annotated := make([]string, len(decisions))
	copy(annotated, decisions)
	for _, cf := range conflicts {
		if cf.EarlierIndex < 0 || cf.LaterIndex < 0 ||
			cf.EarlierIndex >= len(annotated) || cf.LaterIndex >= len(annotated) {
			continue
		}
		if !strings.HasSuffix(annotated[cf.EarlierIndex], "[conflict: superseded by a later decision]") {
			annotated[cf.EarlierIndex] += " [conflict: superseded by a later decision]"
		}
		if !strings.HasSuffix(annotated[cf.LaterIndex], "[conflict: supersedes an earlier decision]") {
			annotated[cf.LaterIndex] += " [conflict: supersedes an earlier decision]"
		}
	}
	return annotated
}

func consolidatedSummary(topicID string, memberCount int, summaries []string) string {
	header := fmt.Sprintf("Consolidated %d records for topic %q.", memberCount, topicID)
	if len(summaries) == 0 {
		return header
	}
	return header + "\n\n" + strings.Join(summaries, "\n\n")
}

// appendUnique appends items not already present, preserving first-seen order.
func appendUnique(dst []string, items []string) []string {
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		seen := false
		for _, existing := range dst {
			if existing == item {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, item)
		}
	}
	return dst
}

func firstNonEmptyPlan(members []types.MemoryRecord) string {
	for i := range members {
		if members[i].PlanID != "" {
			return members[i].PlanID
		}
	}
	return ""
}
