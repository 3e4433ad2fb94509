// Package dedupe scores pairs of profiles for likely duplication and
// proposes them for human review. Scoring is deterministic and every
// proposal carries the per-signal breakdown that produced it; nothing is
// ever merged automatically.
package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/famlinks/kinship/internal/config"
	"github.com/famlinks/kinship/internal/driver"
	"github.com/famlinks/kinship/internal/model"
)

// scanCheckpoint is the driver checkpoint name batch scans persist
// progress under.
const scanCheckpoint = "dedupe_scan"

// Detector scores profile pairs. It reads through the driver directly;
// proposals are plain records, not graph mutations.
type Detector struct {
	d   driver.Driver
	cfg config.DedupeConfig
	log *slog.Logger
}

func NewDetector(d driver.Driver, cfg config.DedupeConfig, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	return &Detector{d: d, cfg: cfg, log: log}
}

// Evaluate scores the pair without persisting anything. The weight
// profile follows the pair's vital status: death information dominates
// for deceased persons, shared relatives for living ones.
func (dt *Detector) Evaluate(ctx context.Context, aID, bID string) (model.PotentialDuplicate, error) {
	if aID == bID {
		return model.PotentialDuplicate{}, fmt.Errorf("cannot compare %s with itself", aID)
	}
	a, err := dt.d.GetPerson(ctx, aID)
	if err != nil {
		return model.PotentialDuplicate{}, err
	}
	b, err := dt.d.GetPerson(ctx, bID)
	if err != nil {
		return model.PotentialDuplicate{}, err
	}
	return dt.score(ctx, a, b)
}

// Propose evaluates the pair and persists it as pending when it clears
// the confidence floor. An already settled pair is returned untouched; a
// pending one is refreshed with the new score.
func (dt *Detector) Propose(ctx context.Context, aID, bID string) (model.PotentialDuplicate, error) {
	existing, err := dt.d.FindDuplicate(ctx, aID, bID)
	switch {
	case err == nil && existing.Settled():
		return existing, nil
	case err == nil:
		// pending: fall through and rescore
	case !model.IsNotFound(err):
		return model.PotentialDuplicate{}, err
	}

	dup, err := dt.Evaluate(ctx, aID, bID)
	if err != nil {
		return model.PotentialDuplicate{}, err
	}
	if dup.Confidence < dt.cfg.MinConfidence {
		return dup, nil
	}
	if existing.ID != "" {
		dup.ID = existing.ID
		dup.CreatedAt = existing.CreatedAt
	}
	if err := dt.d.SaveDuplicate(ctx, dup); err != nil {
		return model.PotentialDuplicate{}, err
	}
	return dup, nil
}

func (dt *Detector) score(ctx context.Context, a, b model.Person) (model.PotentialDuplicate, error) {
	w := dt.cfg.Living
	if a.Deceased() && b.Deceased() {
		w = dt.cfg.Deceased
	}

	var reasons []model.MatchReason
	fire := func(signal, detail string, weight, score float64) {
		reasons = append(reasons, model.MatchReason{
			Signal:       signal,
			Detail:       detail,
			Weight:       weight,
			Score:        score,
			Contribution: weight * score,
		})
	}

	if nameScore, detail, ok := nameSimilarity(a, b); ok {
		fire("name", detail, w.Name, nameScore)
	}
	if score, detail, ok := dateSimilarity(a.BirthDate, b.BirthDate); ok {
		fire("birth_date", detail, w.BirthDate, score)
	}
	if score, detail, ok := dateSimilarity(a.DeathDate, b.DeathDate); ok {
		fire("death_date", detail, w.DeathDate, score)
	}
	if score, detail, ok := placeSimilarity(a.BirthPlace, b.BirthPlace); ok {
		fire("place", detail, w.Place, score)
	}

	shared, fired, err := dt.sharedRelatives(ctx, a.ID, b.ID)
	if err != nil {
		return model.PotentialDuplicate{}, err
	}
	if fired {
		sat := dt.cfg.SharedRelativesCap
		if sat <= 0 {
			sat = 1
		}
		score := float64(shared) / float64(sat)
		if score > 1 {
			score = 1
		}
		fire("shared_relatives", fmt.Sprintf("%d shared immediate relatives", shared), w.SharedRelatives, score)
	}

	var sum, totalWeight float64
	for _, r := range reasons {
		sum += r.Contribution
		totalWeight += r.Weight
	}
	confidence := 0.0
	if totalWeight > 0 {
		confidence = sum / totalWeight
	}

	return model.PotentialDuplicate{
		ID:              uuid.New().String(),
		ProfileAID:      a.ID,
		ProfileBID:      b.ID,
		Confidence:      confidence,
		Reasons:         reasons,
		SharedRelatives: shared,
		Status:          model.DuplicatePending,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// sharedRelatives counts persons adjacent to both profiles through any
// edge. The signal fires as soon as either profile has a family at all:
// a recorded family with no overlap is evidence against the match and
// must drag the confidence down, not drop out of the normalization.
func (dt *Detector) sharedRelatives(ctx context.Context, aID, bID string) (int, bool, error) {
	na, err := dt.neighbors(ctx, aID)
	if err != nil {
		return 0, false, err
	}
	nb, err := dt.neighbors(ctx, bID)
	if err != nil {
		return 0, false, err
	}
	if len(na) == 0 && len(nb) == 0 {
		return 0, false, nil
	}
	shared := 0
	for id := range na {
		if id != bID && nb[id] {
			shared++
		}
	}
	return shared, true, nil
}

func (dt *Detector) neighbors(ctx context.Context, id string) (map[string]bool, error) {
	edges, err := dt.d.EdgesOf(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(edges))
	for _, e := range edges {
		if other := e.Other(id); other != "" {
			out[other] = true
		}
	}
	return out, nil
}

// Scan walks every unmerged profile pairwise within blocking groups
// (surname initial plus birth decade) and proposes pairs clearing the
// confidence floor. minConfidence <= 0 falls back to the configured
// floor. Progress is checkpointed per block, so an interrupted scan
// resumes where it stopped. Returns the number of pairs proposed.
func (dt *Detector) Scan(ctx context.Context, minConfidence float64) (int, error) {
	if minConfidence <= 0 {
		minConfidence = dt.cfg.MinConfidence
	}
	persons, err := dt.d.ListPersons(ctx)
	if err != nil {
		return 0, err
	}

	blocks := make(map[string][]model.Person)
	for _, p := range persons {
		if p.MergedIntoID != "" {
			continue
		}
		k := blockKey(p)
		blocks[k] = append(blocks[k], p)
	}
	keys := make([]string, 0, len(blocks))
	for k := range blocks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	resume, err := dt.d.GetCheckpoint(ctx, scanCheckpoint)
	if err != nil {
		return 0, err
	}
	if resume != "" {
		dt.log.Info("resuming duplicate scan", "after_block", resume)
	}

	var proposed atomic.Int64
	for _, key := range keys {
		if resume != "" && key <= resume {
			continue
		}
		if err := ctx.Err(); err != nil {
			return int(proposed.Load()), err
		}
		if err := dt.scanBlock(ctx, blocks[key], minConfidence, &proposed); err != nil {
			return int(proposed.Load()), err
		}
		if err := dt.d.SaveCheckpoint(ctx, scanCheckpoint, key); err != nil {
			return int(proposed.Load()), err
		}
	}

	// A finished scan clears the checkpoint so the next one starts over.
	if err := dt.d.SaveCheckpoint(ctx, scanCheckpoint, ""); err != nil {
		return int(proposed.Load()), err
	}
	dt.log.Info("duplicate scan complete", "blocks", len(keys), "proposed", proposed.Load())
	return int(proposed.Load()), nil
}

func (dt *Detector) scanBlock(ctx context.Context, block []model.Person, minConfidence float64, proposed *atomic.Int64) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(dt.cfg.Workers)

	for i := range block {
		for j := i + 1; j < len(block); j++ {
			a, b := block[i], block[j]
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				if _, err := dt.d.FindDuplicate(ctx, a.ID, b.ID); err == nil {
					return nil // already proposed or settled
				} else if !model.IsNotFound(err) {
					return err
				}
				dup, err := dt.score(ctx, a, b)
				if err != nil {
					return err
				}
				if dup.Confidence < minConfidence {
					return nil
				}
				if err := dt.d.SaveDuplicate(ctx, dup); err != nil {
					return err
				}
				proposed.Add(1)
				return nil
			})
		}
	}
	return g.Wait()
}

// blockKey groups candidates so a scan compares plausible pairs only:
// same surname initial after normalization, same birth decade. Profiles
// without a birth date land in a per-initial catchall block.
func blockKey(p model.Person) string {
	last := Normalize(p.LastName)
	if last == "" {
		last = Normalize(p.MaidenName)
	}
	initial := "?"
	if last != "" {
		initial = string([]rune(last)[0])
	}
	if p.BirthDate == nil {
		return initial + "-"
	}
	return fmt.Sprintf("%s-%d", initial, p.BirthDate.Year()/10*10)
}

// nameSimilarity compares full names in normalized form, trying the
// maiden name in place of the surname so a married name still matches.
func nameSimilarity(a, b model.Person) (float64, string, bool) {
	as := nameVariants(a)
	bs := nameVariants(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0, "", false
	}
	best := 0.0
	for _, x := range as {
		for _, y := range bs {
			if s := JaroWinkler(x, y); s > best {
				best = s
			}
		}
	}
	return best, fmt.Sprintf("name similarity %.2f", best), true
}

func nameVariants(p model.Person) []string {
	var out []string
	add := func(first, last string) {
		full := Normalize(first + " " + last)
		if full == "" {
			return
		}
		for _, v := range out {
			if v == full {
				return
			}
		}
		out = append(out, full)
	}
	add(p.FirstName, p.LastName)
	if p.MaidenName != "" {
		add(p.FirstName, p.MaidenName)
	}
	return out
}

// dateSimilarity fires only when both dates are recorded: exact match
// scores 1, same year 0.7, within two years 0.4.
func dateSimilarity(a, b *time.Time) (float64, string, bool) {
	if a == nil || b == nil {
		return 0, "", false
	}
	switch {
	case a.Equal(*b):
		return 1, "exact date match", true
	case a.Year() == b.Year():
		return 0.7, "same year", true
	case yearDiff(a.Year(), b.Year()) <= 2:
		return 0.4, fmt.Sprintf("years %d apart", yearDiff(a.Year(), b.Year())), true
	}
	return 0, fmt.Sprintf("years %d apart", yearDiff(a.Year(), b.Year())), true
}

func yearDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

func placeSimilarity(a, b string) (float64, string, bool) {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0, "", false
	}
	s := JaroWinkler(na, nb)
	switch {
	case na == nb:
		return 1, "same place", true
	case s >= 0.9:
		return 0.8, fmt.Sprintf("place similarity %.2f", s), true
	}
	return 0, fmt.Sprintf("place similarity %.2f", s), true
}
