package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/famlinks/kinship/internal/model"
)

// BoltDriver persists the graph in a bolt-speaking database (Neo4j or
// Memgraph). Batches run inside a single managed write transaction.
type BoltDriver struct {
	driver neo4j.DriverWithContext
	log    *slog.Logger
}

func NewBoltDriver(uri, username, password string) (*BoltDriver, error) {
	d, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}
	if err := d.VerifyConnectivity(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", uri, err)
	}
	return &BoltDriver{driver: d, log: slog.Default()}, nil
}

func (d *BoltDriver) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

// EnsureIndexes creates the id indexes. Failures are logged and skipped:
// the index may already exist, and syntax differs slightly per backend.
func (d *BoltDriver) EnsureIndexes(ctx context.Context) error {
	queries := []string{
		"CREATE INDEX ON :Person(id);",
		"CREATE INDEX ON :PotentialDuplicate(id);",
		"CREATE INDEX ON :PotentialDuplicate(pair_key);",
		"CREATE INDEX ON :BridgeRequest(id);",
		"CREATE INDEX ON :Checkpoint(name);",
	}
	for _, q := range queries {
		if _, err := d.run(ctx, q, nil); err != nil {
			d.log.Warn("index creation skipped", "query", q, "error", err)
		}
	}
	return nil
}

func (d *BoltDriver) run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, d.driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return result, nil
}

func (d *BoltDriver) UpsertPerson(ctx context.Context, p model.Person) error {
	_, err := d.run(ctx, SavePersonQuery, personParams(p))
	return err
}

func (d *BoltDriver) GetPerson(ctx context.Context, id string) (model.Person, error) {
	res, err := d.run(ctx, GetPersonQuery, map[string]any{"id": id})
	if err != nil {
		return model.Person{}, err
	}
	if len(res.Records) == 0 {
		return model.Person{}, fmt.Errorf("person %s: %w", id, model.ErrNotFound)
	}
	return personFromRecord(res.Records[0])
}

func (d *BoltDriver) ListPersons(ctx context.Context) ([]model.Person, error) {
	res, err := d.run(ctx, ListPersonsQuery, nil)
	if err != nil {
		return nil, err
	}
	out := make([]model.Person, 0, len(res.Records))
	for _, rec := range res.Records {
		p, err := personFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (d *BoltDriver) InsertEdges(ctx context.Context, edges []model.RelationshipEdge) error {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, e := range edges {
			if _, err := tx.Run(ctx, SaveEdgeQuery, edgeParams(e)); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (d *BoltDriver) DeleteEdges(ctx context.Context, ids []string) error {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, id := range ids {
			if _, err := tx.Run(ctx, DeleteEdgeQuery, map[string]any{"id": id}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (d *BoltDriver) GetEdge(ctx context.Context, id string) (model.RelationshipEdge, error) {
	res, err := d.run(ctx, GetEdgeQuery, map[string]any{"id": id})
	if err != nil {
		return model.RelationshipEdge{}, err
	}
	if len(res.Records) == 0 {
		return model.RelationshipEdge{}, fmt.Errorf("edge %s: %w", id, model.ErrNotFound)
	}
	return edgeFromRecord(res.Records[0])
}

func (d *BoltDriver) EdgesOf(ctx context.Context, personID string) ([]model.RelationshipEdge, error) {
	res, err := d.run(ctx, EdgesOfQuery, map[string]any{"person_id": personID})
	if err != nil {
		return nil, err
	}
	out := make([]model.RelationshipEdge, 0, len(res.Records))
	for _, rec := range res.Records {
		e, err := edgeFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (d *BoltDriver) SaveDuplicate(ctx context.Context, dup model.PotentialDuplicate) error {
	params, err := duplicateParams(dup)
	if err != nil {
		return err
	}
	_, err = d.run(ctx, SaveDuplicateQuery, params)
	return err
}

func (d *BoltDriver) GetDuplicate(ctx context.Context, id string) (model.PotentialDuplicate, error) {
	res, err := d.run(ctx, GetDuplicateQuery, map[string]any{"id": id})
	if err != nil {
		return model.PotentialDuplicate{}, err
	}
	if len(res.Records) == 0 {
		return model.PotentialDuplicate{}, fmt.Errorf("duplicate %s: %w", id, model.ErrNotFound)
	}
	return duplicateFromRecord(res.Records[0])
}

func (d *BoltDriver) FindDuplicate(ctx context.Context, aID, bID string) (model.PotentialDuplicate, error) {
	res, err := d.run(ctx, FindDuplicateQuery, map[string]any{"pair_key": pairKey(aID, bID)})
	if err != nil {
		return model.PotentialDuplicate{}, err
	}
	if len(res.Records) == 0 {
		return model.PotentialDuplicate{}, fmt.Errorf("pair (%s, %s): %w", aID, bID, model.ErrNotFound)
	}
	return duplicateFromRecord(res.Records[0])
}

func (d *BoltDriver) ListDuplicates(ctx context.Context, status model.DuplicateStatus) ([]model.PotentialDuplicate, error) {
	res, err := d.run(ctx, ListDuplicatesQuery, map[string]any{"status": string(status)})
	if err != nil {
		return nil, err
	}
	out := make([]model.PotentialDuplicate, 0, len(res.Records))
	for _, rec := range res.Records {
		dup, err := duplicateFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, dup)
	}
	return out, nil
}

func (d *BoltDriver) SaveBridgeRequest(ctx context.Context, r model.BridgeRequest) error {
	_, err := d.run(ctx, SaveBridgeRequestQuery, bridgeParams(r))
	return err
}

func (d *BoltDriver) GetBridgeRequest(ctx context.Context, id string) (model.BridgeRequest, error) {
	res, err := d.run(ctx, GetBridgeRequestQuery, map[string]any{"id": id})
	if err != nil {
		return model.BridgeRequest{}, err
	}
	if len(res.Records) == 0 {
		return model.BridgeRequest{}, fmt.Errorf("bridge request %s: %w", id, model.ErrNotFound)
	}
	return bridgeFromRecord(res.Records[0])
}

func (d *BoltDriver) ListBridgeRequests(ctx context.Context, status model.BridgeStatus) ([]model.BridgeRequest, error) {
	res, err := d.run(ctx, ListBridgeRequestsQuery, map[string]any{"status": string(status)})
	if err != nil {
		return nil, err
	}
	out := make([]model.BridgeRequest, 0, len(res.Records))
	for _, rec := range res.Records {
		r, err := bridgeFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (d *BoltDriver) GetCheckpoint(ctx context.Context, name string) (string, error) {
	res, err := d.run(ctx, GetCheckpointQuery, map[string]any{"name": name})
	if err != nil {
		return "", err
	}
	if len(res.Records) == 0 {
		return "", nil
	}
	v, _ := res.Records[0].Get("value")
	return asString(v), nil
}

func (d *BoltDriver) SaveCheckpoint(ctx context.Context, name, value string) error {
	_, err := d.run(ctx, SaveCheckpointQuery, map[string]any{"name": name, "value": value})
	return err
}

// --- parameter maps and record decoding ---

func personParams(p model.Person) map[string]any {
	return map[string]any{
		"id":             p.ID,
		"first_name":     p.FirstName,
		"last_name":      p.LastName,
		"maiden_name":    p.MaidenName,
		"middle_name":    p.MiddleName,
		"gender":         string(p.Gender),
		"birth_date":     formatTimePtr(p.BirthDate),
		"death_date":     formatTimePtr(p.DeathDate),
		"birth_place":    p.BirthPlace,
		"death_place":    p.DeathPlace,
		"is_living":      p.IsLiving,
		"created_at":     p.CreatedAt.Format(time.RFC3339),
		"merged_into_id": p.MergedIntoID,
	}
}

func edgeParams(e model.RelationshipEdge) map[string]any {
	return map[string]any{
		"id":             e.ID,
		"from_id":        e.FromID,
		"to_id":          e.ToID,
		"type_code":      e.TypeCode,
		"half":           e.Qualifiers.Half,
		"in_law":         e.Qualifiers.InLaw,
		"is_ex":          e.Qualifiers.Ex,
		"cousin_degree":  e.Qualifiers.CousinDegree,
		"cousin_removed": e.Qualifiers.CousinRemoved,
		"marriage_date":  formatTimePtr(e.Qualifiers.MarriageDate),
		"divorce_date":   formatTimePtr(e.Qualifiers.DivorceDate),
		"lineage":        e.Qualifiers.Lineage,
		"created_at":     e.CreatedAt.Format(time.RFC3339),
		"inverse_id":     e.InverseID,
	}
}

func duplicateParams(d model.PotentialDuplicate) (map[string]any, error) {
	reasons, err := json.Marshal(d.Reasons)
	if err != nil {
		return nil, fmt.Errorf("failed to encode match reasons: %w", err)
	}
	return map[string]any{
		"id":               d.ID,
		"profile_a":        d.ProfileAID,
		"profile_b":        d.ProfileBID,
		"pair_key":         pairKey(d.ProfileAID, d.ProfileBID),
		"confidence":       d.Confidence,
		"reasons":          string(reasons),
		"shared_relatives": d.SharedRelatives,
		"status":           string(d.Status),
		"kept_profile_id":  d.KeptProfileID,
		"reviewed_by":      d.ReviewedBy,
		"created_at":       d.CreatedAt.Format(time.RFC3339),
		"resolved_at":      formatTimePtr(d.ResolvedAt),
	}, nil
}

func bridgeParams(r model.BridgeRequest) map[string]any {
	return map[string]any{
		"id":               r.ID,
		"requester_id":     r.RequesterID,
		"target_id":        r.TargetID,
		"claimed_type":     r.ClaimedType,
		"hint_name":        r.Hint.Name,
		"hint_birth_year":  r.Hint.BirthYear,
		"hint_support":     r.HintSupport,
		"hint_person_id":   r.HintPersonID,
		"status":           string(r.Status),
		"established_type": r.EstablishedType,
		"reason":           r.Reason,
		"created_at":       r.CreatedAt.Format(time.RFC3339),
		"expires_at":       r.ExpiresAt.Format(time.RFC3339),
		"responded_at":     formatTimePtr(r.RespondedAt),
	}
}

func personFromRecord(rec *neo4j.Record) (model.Person, error) {
	v, ok := rec.Get("p")
	if !ok {
		return model.Person{}, fmt.Errorf("record missing person node")
	}
	node, ok := v.(neo4j.Node)
	if !ok {
		return model.Person{}, fmt.Errorf("unexpected person value %T", v)
	}
	props := node.Props
	return model.Person{
		ID:           propString(props, "id"),
		FirstName:    propString(props, "first_name"),
		LastName:     propString(props, "last_name"),
		MaidenName:   propString(props, "maiden_name"),
		MiddleName:   propString(props, "middle_name"),
		Gender:       model.Gender(propString(props, "gender")),
		BirthDate:    propTimePtr(props, "birth_date"),
		DeathDate:    propTimePtr(props, "death_date"),
		BirthPlace:   propString(props, "birth_place"),
		DeathPlace:   propString(props, "death_place"),
		IsLiving:     propBool(props, "is_living"),
		CreatedAt:    propTime(props, "created_at"),
		MergedIntoID: propString(props, "merged_into_id"),
	}, nil
}

func edgeFromRecord(rec *neo4j.Record) (model.RelationshipEdge, error) {
	v, ok := rec.Get("e")
	if !ok {
		return model.RelationshipEdge{}, fmt.Errorf("record missing edge")
	}
	rel, ok := v.(neo4j.Relationship)
	if !ok {
		return model.RelationshipEdge{}, fmt.Errorf("unexpected edge value %T", v)
	}
	props := rel.Props
	from, _ := rec.Get("from_id")
	to, _ := rec.Get("to_id")
	return model.RelationshipEdge{
		ID:       propString(props, "id"),
		FromID:   asString(from),
		ToID:     asString(to),
		TypeCode: propString(props, "type_code"),
		Qualifiers: model.EdgeQualifiers{
			Half:          propBool(props, "half"),
			InLaw:         propBool(props, "in_law"),
			Ex:            propBool(props, "is_ex"),
			CousinDegree:  propInt(props, "cousin_degree"),
			CousinRemoved: propInt(props, "cousin_removed"),
			MarriageDate:  propTimePtr(props, "marriage_date"),
			DivorceDate:   propTimePtr(props, "divorce_date"),
			Lineage:       propString(props, "lineage"),
		},
		CreatedAt: propTime(props, "created_at"),
		InverseID: propString(props, "inverse_id"),
	}, nil
}

func duplicateFromRecord(rec *neo4j.Record) (model.PotentialDuplicate, error) {
	v, ok := rec.Get("d")
	if !ok {
		return model.PotentialDuplicate{}, fmt.Errorf("record missing duplicate node")
	}
	node, ok := v.(neo4j.Node)
	if !ok {
		return model.PotentialDuplicate{}, fmt.Errorf("unexpected duplicate value %T", v)
	}
	props := node.Props
	var reasons []model.MatchReason
	if raw := propString(props, "reasons"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &reasons); err != nil {
			return model.PotentialDuplicate{}, fmt.Errorf("failed to decode match reasons: %w", err)
		}
	}
	return model.PotentialDuplicate{
		ID:              propString(props, "id"),
		ProfileAID:      propString(props, "profile_a"),
		ProfileBID:      propString(props, "profile_b"),
		Confidence:      propFloat(props, "confidence"),
		Reasons:         reasons,
		SharedRelatives: propInt(props, "shared_relatives"),
		Status:          model.DuplicateStatus(propString(props, "status")),
		KeptProfileID:   propString(props, "kept_profile_id"),
		ReviewedBy:      propString(props, "reviewed_by"),
		CreatedAt:       propTime(props, "created_at"),
		ResolvedAt:      propTimePtr(props, "resolved_at"),
	}, nil
}

func bridgeFromRecord(rec *neo4j.Record) (model.BridgeRequest, error) {
	v, ok := rec.Get("r")
	if !ok {
		return model.BridgeRequest{}, fmt.Errorf("record missing bridge node")
	}
	node, ok := v.(neo4j.Node)
	if !ok {
		return model.BridgeRequest{}, fmt.Errorf("unexpected bridge value %T", v)
	}
	props := node.Props
	return model.BridgeRequest{
		ID:          propString(props, "id"),
		RequesterID: propString(props, "requester_id"),
		TargetID:    propString(props, "target_id"),
		ClaimedType: propString(props, "claimed_type"),
		Hint: model.AncestorHint{
			Name:      propString(props, "hint_name"),
			BirthYear: propInt(props, "hint_birth_year"),
		},
		HintSupport:     propFloat(props, "hint_support"),
		HintPersonID:    propString(props, "hint_person_id"),
		Status:          model.BridgeStatus(propString(props, "status")),
		EstablishedType: propString(props, "established_type"),
		Reason:          propString(props, "reason"),
		CreatedAt:       propTime(props, "created_at"),
		ExpiresAt:       propTime(props, "expires_at"),
		RespondedAt:     propTimePtr(props, "responded_at"),
	}, nil
}

// --- property helpers ---

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func propString(props map[string]any, key string) string {
	return asString(props[key])
}

func propBool(props map[string]any, key string) bool {
	b, _ := props[key].(bool)
	return b
}

func propInt(props map[string]any, key string) int {
	switch n := props[key].(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func propFloat(props map[string]any, key string) float64 {
	switch n := props[key].(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func propTime(props map[string]any, key string) time.Time {
	t, err := time.Parse(time.RFC3339, propString(props, key))
	if err != nil {
		return time.Time{}
	}
	return t
}

func propTimePtr(props map[string]any, key string) *time.Time {
	s := propString(props, key)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
