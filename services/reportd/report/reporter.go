package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"launchpad/integrations/exports"
	"launchpad/observability/metrics"
	"launchpad/services/reportd/models"
	"launchpad/services/reportd/nodeclient"
)

// Anomaly kinds raised while cross-checking the mirror against the node.
const (
	// AnomalyCapOvershoot fires when a stage's raised total exceeds its cap.
	// The node enforces the cap at purchase time, so an overshoot means the
	// ledger snapshot itself is inconsistent.
	AnomalyCapOvershoot = "cap_overshoot"
	// AnomalyLedgerDrift fires when the mirrored contribution total for a
	// stage differs from the node's raised total.
	AnomalyLedgerDrift = "ledger_drift"
	// AnomalyPendingMismatch fires when a referrer's pending balance on the
	// node differs from mirrored accruals minus mirrored claims.
	AnomalyPendingMismatch = "pending_mismatch"
)

// NodeReader exposes the node queries the reporter cross-checks against.
type NodeReader interface {
	Stages(ctx context.Context) ([]nodeclient.Stage, error)
	ReferralState(ctx context.Context, account string) (*nodeclient.ReferralState, error)
}

// AlertFunc is invoked for every anomaly detected during a run.
type AlertFunc func(ctx context.Context, anomaly Anomaly) error

// ReadyFunc is invoked after a successful run that produced artefacts.
type ReadyFunc func(ctx context.Context, result *Result) error

// Config captures the dependencies required to construct a Reporter.
type Config struct {
	DB        *gorm.DB
	Node      NodeReader
	TZ        *time.Location
	OutputDir string
	DryRun    bool
	Now       func() time.Time
	Alert     AlertFunc
	Ready     ReadyFunc
	Logger    *slog.Logger
}

// RunOptions specifies overrides when executing a report window.
type RunOptions struct {
	Start  time.Time
	End    time.Time
	DryRun bool
}

// Reporter materialises nightly exports joining mirrored feed activity with
// the node's live ledger snapshot.
type Reporter struct {
	db        *gorm.DB
	node      NodeReader
	tz        *time.Location
	outputDir string
	dryRun    bool
	now       func() time.Time
	alert     AlertFunc
	ready     ReadyFunc
	logger    *slog.Logger
}

// Anomaly captures a discrepancy requiring operator review.
type Anomaly struct {
	RunID   string
	Kind    string
	Subject string
	Details string
}

// Result summarises a report run.
type Result struct {
	RunID     uuid.UUID
	Start     time.Time
	End       time.Time
	Rows      int
	Files     []string
	Checksum  string
	Anomalies []Anomaly
	Totals    map[uint64]*big.Int
}

// NewReporter builds a configured reporter.
func NewReporter(cfg Config) (*Reporter, error) {
	if cfg.DB == nil {
		return nil, errors.New("report: db is required")
	}
	if cfg.Node == nil {
		return nil, errors.New("report: node reader is required")
	}
	tz := cfg.TZ
	if tz == nil {
		tz = time.UTC
	}
	outputDir := cfg.OutputDir
	if strings.TrimSpace(outputDir) == "" {
		outputDir = filepath.Join("launchpad-data", "reports")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().In(tz) }
	}
	for _, format := range []string{"csv", "jsonl", "parquet"} {
		metrics.Report().InitExportFormat(format)
	}
	return &Reporter{
		db:        cfg.DB,
		node:      cfg.Node,
		tz:        tz,
		outputDir: outputDir,
		dryRun:    cfg.DryRun,
		now:       nowFn,
		alert:     cfg.Alert,
		ready:     cfg.Ready,
		logger:    logger,
	}, nil
}

// Run executes a report for the supplied window and records the outcome.
func (r *Reporter) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	runID := uuid.New()
	startedAt := r.now()
	result, runErr := r.execute(ctx, runID, opts)
	completedAt := r.now()

	record := models.ReportRun{
		ID:          runID,
		WindowStart: opts.Start.UTC(),
		WindowEnd:   opts.End.UTC(),
		DryRun:      r.dryRun || opts.DryRun,
		StartedAt:   startedAt.UTC(),
		CompletedAt: completedAt.UTC(),
	}
	if runErr != nil {
		record.Status = models.RunStatusFailed
		record.Error = runErr.Error()
	} else {
		record.Status = models.RunStatusSucceeded
		record.Rows = result.Rows
		record.Files = strings.Join(result.Files, "\n")
		record.Checksum = result.Checksum
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		r.logger.Warn("persist run record failed", slog.String("error", err.Error()))
	}
	if result != nil {
		for _, anomaly := range result.Anomalies {
			row := models.Anomaly{
				ID:        uuid.New(),
				RunID:     runID,
				Kind:      anomaly.Kind,
				Subject:   anomaly.Subject,
				Details:   anomaly.Details,
				CreatedAt: completedAt.UTC(),
			}
			if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
				r.logger.Warn("persist anomaly failed", slog.String("kind", anomaly.Kind), slog.String("error", err.Error()))
			}
		}
	}
	if runErr != nil {
		return nil, runErr
	}

	metrics.Report().SetLastRun(completedAt)
	if !record.DryRun && r.ready != nil {
		if err := r.ready(ctx, result); err != nil {
			r.logger.Warn("report ready notification failed", slog.String("error", err.Error()))
		}
	}
	return result, nil
}

func (r *Reporter) execute(ctx context.Context, runID uuid.UUID, opts RunOptions) (*Result, error) {
	start := opts.Start.In(r.tz)
	end := opts.End.In(r.tz)
	if end.Before(start) {
		return nil, fmt.Errorf("report: end before start")
	}
	dryRun := r.dryRun || opts.DryRun

	var contributions []models.Contribution
	if err := r.db.WithContext(ctx).
		Where("recorded_at >= ? AND recorded_at < ?", start, end).
		Order("sequence asc").
		Find(&contributions).Error; err != nil {
		return nil, fmt.Errorf("report: load contributions: %w", err)
	}
	var credits []models.RewardCredit
	if err := r.db.WithContext(ctx).
		Where("recorded_at >= ? AND recorded_at < ?", start, end).
		Order("sequence asc").
		Find(&credits).Error; err != nil {
		return nil, fmt.Errorf("report: load reward credits: %w", err)
	}
	var claims []models.RewardClaim
	if err := r.db.WithContext(ctx).
		Where("recorded_at >= ? AND recorded_at < ?", start, end).
		Order("sequence asc").
		Find(&claims).Error; err != nil {
		return nil, fmt.Errorf("report: load reward claims: %w", err)
	}

	stages, err := r.node.Stages(ctx)
	if err != nil {
		return nil, fmt.Errorf("report: load stage snapshot: %w", err)
	}

	anomalies, err := r.checkStages(ctx, stages)
	if err != nil {
		return nil, err
	}
	referralAnomalies, summaries, err := r.checkReferrals(ctx, credits, claims)
	if err != nil {
		return nil, err
	}
	anomalies = append(anomalies, referralAnomalies...)

	result := &Result{
		RunID:     runID,
		Start:     start,
		End:       end,
		Rows:      len(contributions),
		Anomalies: anomalies,
		Totals:    windowTotals(contributions),
	}

	if !dryRun {
		runDir := filepath.Join(r.outputDir, fmt.Sprintf("%s_%s", start.Format("20060102"), end.Format("20060102")))
		if err := os.MkdirAll(runDir, 0o755); err != nil {
			return nil, fmt.Errorf("report: ensure output dir: %w", err)
		}
		files, checksum, err := r.writeArtefacts(runDir, contributions, summaries)
		if err != nil {
			return nil, err
		}
		result.Files = files
		result.Checksum = checksum
	}
	return result, nil
}

// checkStages compares the node's per-stage raised totals against the
// mirrored contribution sums. Amount columns are decimal strings, so the
// sums happen in Go rather than SQL.
func (r *Reporter) checkStages(ctx context.Context, stages []nodeclient.Stage) ([]Anomaly, error) {
	type stageAmount struct {
		StageID      uint64
		StableAmount string
	}
	var all []stageAmount
	if err := r.db.WithContext(ctx).
		Model(&models.Contribution{}).
		Select("stage_id", "stable_amount").
		Find(&all).Error; err != nil {
		return nil, fmt.Errorf("report: sum mirrored contributions: %w", err)
	}
	mirrored := make(map[uint64]*big.Int)
	for _, row := range all {
		total, ok := mirrored[row.StageID]
		if !ok {
			total = big.NewInt(0)
			mirrored[row.StageID] = total
		}
		addAmount(total, row.StableAmount)
	}

	anomalies := make([]Anomaly, 0)
	for _, stage := range stages {
		raised := parseAmount(stage.TotalRaised)
		stageCap := parseAmount(stage.Cap)
		subject := fmt.Sprintf("stage-%d", stage.ID)
		if stageCap.Sign() > 0 && raised.Cmp(stageCap) > 0 {
			anomalies = append(anomalies, r.raise(ctx, Anomaly{
				Kind:    AnomalyCapOvershoot,
				Subject: subject,
				Details: fmt.Sprintf("raised %s exceeds cap %s", raised, stageCap),
			}))
		}
		mirroredTotal, ok := mirrored[stage.ID]
		if !ok {
			mirroredTotal = big.NewInt(0)
		}
		if mirroredTotal.Cmp(raised) != 0 {
			anomalies = append(anomalies, r.raise(ctx, Anomaly{
				Kind:    AnomalyLedgerDrift,
				Subject: subject,
				Details: fmt.Sprintf("node raised %s, mirror holds %s", raised, mirroredTotal),
			}))
		}
	}
	return anomalies, nil
}

// checkReferrals verifies pending balances for every referrer credited in
// the window and builds their summary rows.
func (r *Reporter) checkReferrals(ctx context.Context, credits []models.RewardCredit, claims []models.RewardClaim) ([]Anomaly, []exports.ReferralSummaryRecord, error) {
	referrers := make([]string, 0)
	seen := make(map[string]bool)
	for _, credit := range credits {
		if credit.Referrer == "" || seen[credit.Referrer] {
			continue
		}
		seen[credit.Referrer] = true
		referrers = append(referrers, credit.Referrer)
	}
	sort.Strings(referrers)
	if len(referrers) == 0 {
		return nil, nil, nil
	}

	type referrerAmount struct {
		Referrer string
		Earned   string
	}
	var earnedRows []referrerAmount
	if err := r.db.WithContext(ctx).
		Model(&models.RewardCredit{}).
		Select("referrer", "earned").
		Find(&earnedRows).Error; err != nil {
		return nil, nil, fmt.Errorf("report: sum mirrored credits: %w", err)
	}
	type accountAmount struct {
		Account string
		Amount  string
	}
	var claimRows []accountAmount
	if err := r.db.WithContext(ctx).
		Model(&models.RewardClaim{}).
		Select("account", "amount").
		Find(&claimRows).Error; err != nil {
		return nil, nil, fmt.Errorf("report: sum mirrored claims: %w", err)
	}

	earnedTotals := make(map[string]*big.Int)
	for _, row := range earnedRows {
		total, ok := earnedTotals[row.Referrer]
		if !ok {
			total = big.NewInt(0)
			earnedTotals[row.Referrer] = total
		}
		addAmount(total, row.Earned)
	}
	claimedTotals := make(map[string]*big.Int)
	for _, row := range claimRows {
		total, ok := claimedTotals[row.Account]
		if !ok {
			total = big.NewInt(0)
			claimedTotals[row.Account] = total
		}
		addAmount(total, row.Amount)
	}

	windowLevel1 := make(map[string]*big.Int)
	windowLevel2 := make(map[string]*big.Int)
	for _, credit := range credits {
		target := windowLevel1
		if credit.Level == 2 {
			target = windowLevel2
		}
		total, ok := target[credit.Referrer]
		if !ok {
			total = big.NewInt(0)
			target[credit.Referrer] = total
		}
		addAmount(total, credit.Earned)
	}
	windowClaimed := make(map[string]*big.Int)
	for _, claim := range claims {
		total, ok := windowClaimed[claim.Account]
		if !ok {
			total = big.NewInt(0)
			windowClaimed[claim.Account] = total
		}
		addAmount(total, claim.Amount)
	}

	anomalies := make([]Anomaly, 0)
	summaries := make([]exports.ReferralSummaryRecord, 0, len(referrers))
	for _, referrer := range referrers {
		state, err := r.node.ReferralState(ctx, referrer)
		if err != nil {
			return nil, nil, fmt.Errorf("report: referral state %s: %w", referrer, err)
		}
		mirrorPending := new(big.Int).Set(orZero(earnedTotals[referrer]))
		mirrorPending.Sub(mirrorPending, orZero(claimedTotals[referrer]))
		nodePending := parseAmount(state.Pending)
		if mirrorPending.Cmp(nodePending) != 0 {
			anomalies = append(anomalies, r.raise(ctx, Anomaly{
				Kind:    AnomalyPendingMismatch,
				Subject: referrer,
				Details: fmt.Sprintf("node pending %s, mirror holds %s", nodePending, mirrorPending),
			}))
		}
		level1 := orZero(windowLevel1[referrer])
		level2 := orZero(windowLevel2[referrer])
		summaries = append(summaries, exports.ReferralSummaryRecord{
			Referrer:     referrer,
			Level1Earned: level1.String(),
			Level2Earned: level2.String(),
			TotalEarned:  new(big.Int).Add(level1, level2).String(),
			Claimed:      orZero(windowClaimed[referrer]).String(),
			Pending:      state.Pending,
		})
	}
	return anomalies, summaries, nil
}

// writeArtefacts renders the per-stage contribution exports and the referral
// summary into the run directory. The returned checksum covers every
// rendered payload.
func (r *Reporter) writeArtefacts(runDir string, contributions []models.Contribution, summaries []exports.ReferralSummaryRecord) ([]string, string, error) {
	grouped, stageIDs := groupByStage(contributions)

	files := make([]string, 0, 3*len(stageIDs)+1)
	checksums := make([]string, 0, 2*len(stageIDs)+1)

	csvStart := time.Now()
	csvRows := 0
	for _, id := range stageIDs {
		records := grouped[id]
		payload, checksum, err := exports.ContributionsCSV(records)
		if err != nil {
			metrics.Report().ObserveExport("csv", 0, time.Since(csvStart), err)
			return nil, "", fmt.Errorf("report: render stage %d csv: %w", id, err)
		}
		path := filepath.Join(runDir, fmt.Sprintf("stage_%d.csv", id))
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			metrics.Report().ObserveExport("csv", 0, time.Since(csvStart), err)
			return nil, "", fmt.Errorf("report: write %s: %w", path, err)
		}
		r.logger.Info("report artefact written", slog.String("path", path), slog.Int("rows", len(records)))
		files = append(files, path)
		checksums = append(checksums, checksum)
		csvRows += len(records)
	}
	if len(summaries) > 0 {
		payload, checksum, err := exports.ReferralSummaryCSV(summaries)
		if err != nil {
			metrics.Report().ObserveExport("csv", 0, time.Since(csvStart), err)
			return nil, "", fmt.Errorf("report: render referral summary: %w", err)
		}
		path := filepath.Join(runDir, "referrals.csv")
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			metrics.Report().ObserveExport("csv", 0, time.Since(csvStart), err)
			return nil, "", fmt.Errorf("report: write %s: %w", path, err)
		}
		r.logger.Info("report artefact written", slog.String("path", path), slog.Int("rows", len(summaries)))
		files = append(files, path)
		checksums = append(checksums, checksum)
		csvRows += len(summaries)
	}
	metrics.Report().ObserveExport("csv", csvRows, time.Since(csvStart), nil)

	jsonlStart := time.Now()
	jsonlRows := 0
	for _, id := range stageIDs {
		records := grouped[id]
		payload, checksum, err := exports.ContributionsJSONL(records)
		if err != nil {
			metrics.Report().ObserveExport("jsonl", 0, time.Since(jsonlStart), err)
			return nil, "", fmt.Errorf("report: render stage %d jsonl: %w", id, err)
		}
		path := filepath.Join(runDir, fmt.Sprintf("stage_%d.jsonl", id))
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			metrics.Report().ObserveExport("jsonl", 0, time.Since(jsonlStart), err)
			return nil, "", fmt.Errorf("report: write %s: %w", path, err)
		}
		files = append(files, path)
		checksums = append(checksums, checksum)
		jsonlRows += len(records)
	}
	metrics.Report().ObserveExport("jsonl", jsonlRows, time.Since(jsonlStart), nil)

	parquetStart := time.Now()
	parquetRows := 0
	for _, id := range stageIDs {
		records := grouped[id]
		path := filepath.Join(runDir, fmt.Sprintf("stage_%d.parquet", id))
		if err := writeParquet(path, records); err != nil {
			metrics.Report().ObserveExport("parquet", 0, time.Since(parquetStart), err)
			return nil, "", err
		}
		r.logger.Info("report artefact written", slog.String("path", path), slog.Int("rows", len(records)))
		files = append(files, path)
		parquetRows += len(records)
	}
	metrics.Report().ObserveExport("parquet", parquetRows, time.Since(parquetStart), nil)

	return files, combinedChecksum(checksums), nil
}

func (r *Reporter) raise(ctx context.Context, anomaly Anomaly) Anomaly {
	metrics.Report().ObserveAnomaly(anomaly.Kind)
	if r.alert != nil {
		if err := r.alert(ctx, anomaly); err != nil {
			r.logger.Warn("anomaly alert delivery failed",
				slog.String("kind", anomaly.Kind),
				slog.String("error", err.Error()))
		}
	}
	return anomaly
}

func groupByStage(rows []models.Contribution) (map[uint64][]exports.ContributionRecord, []uint64) {
	grouped := make(map[uint64][]exports.ContributionRecord)
	for _, row := range rows {
		grouped[row.StageID] = append(grouped[row.StageID], exports.ContributionRecord{
			Sequence:     row.Sequence,
			RecordedAt:   row.RecordedAt,
			Buyer:        row.Buyer,
			StageID:      row.StageID,
			StableAmount: row.StableAmount,
			Asset:        row.Asset,
			AmountIn:     row.AmountIn,
		})
	}
	ids := make([]uint64, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return grouped, ids
}

func windowTotals(rows []models.Contribution) map[uint64]*big.Int {
	totals := make(map[uint64]*big.Int)
	for _, row := range rows {
		total, ok := totals[row.StageID]
		if !ok {
			total = big.NewInt(0)
			totals[row.StageID] = total
		}
		addAmount(total, row.StableAmount)
	}
	return totals
}

func combinedChecksum(checksums []string) string {
	if len(checksums) == 0 {
		return ""
	}
	digest := sha256.Sum256([]byte(strings.Join(checksums, "\n")))
	return hex.EncodeToString(digest[:])
}

func addAmount(total *big.Int, raw string) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return
	}
	total.Add(total, value)
}

func parseAmount(raw string) *big.Int {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return big.NewInt(0)
	}
	return value
}

func orZero(value *big.Int) *big.Int {
	if value == nil {
		return big.NewInt(0)
	}
	return value
}
