// Package server exposes the kinship engine over HTTP. Handlers are
// thin: bind, call into the core, map the error taxonomy onto status
// codes.
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/famlinks/kinship/internal/catalog"
	"github.com/famlinks/kinship/internal/core/bridge"
	"github.com/famlinks/kinship/internal/core/cluster"
	"github.com/famlinks/kinship/internal/core/dedupe"
	"github.com/famlinks/kinship/internal/core/kinship"
	"github.com/famlinks/kinship/internal/model"
	"github.com/famlinks/kinship/internal/store"
)

type Server struct {
	Store      *store.GraphStore
	Classifier *kinship.Classifier
	Resolver   *kinship.Resolver
	Detector   *dedupe.Detector
	Reviewer   *dedupe.Reviewer
	Bridges    *bridge.Matcher
	Clusters   *cluster.Detector
	Log        *slog.Logger
}

func NewServer(st *store.GraphStore, cls *kinship.Classifier, res *kinship.Resolver, det *dedupe.Detector, rev *dedupe.Reviewer, br *bridge.Matcher, cl *cluster.Detector, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		Store:      st,
		Classifier: cls,
		Resolver:   res,
		Detector:   det,
		Reviewer:   rev,
		Bridges:    br,
		Clusters:   cl,
		Log:        log,
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	r.POST("/persons", s.CreatePerson)
	r.GET("/persons", s.ListPersons)
	r.GET("/persons/:id", s.GetPerson)
	r.PUT("/persons/:id", s.UpdatePerson)
	r.GET("/persons/:id/relationships", s.PersonRelationships)
	r.GET("/persons/:id/ancestors", s.Ancestors)
	r.GET("/persons/:id/descendants", s.Descendants)

	r.POST("/relationships", s.AddRelationship)
	r.DELETE("/relationships/:id", s.RemoveRelationship)
	r.GET("/relationships/classify", s.Classify)

	r.POST("/duplicates/check", s.CheckDuplicate)
	r.POST("/duplicates/scan", s.ScanDuplicates)
	r.GET("/duplicates", s.ListDuplicates)
	r.GET("/duplicates/:id", s.GetDuplicate)
	r.POST("/duplicates/:id/confirm", s.ConfirmDuplicate)
	r.POST("/duplicates/:id/reject", s.RejectDuplicate)

	r.GET("/trees", s.ListTrees)

	r.POST("/bridges", s.ProposeBridge)
	r.GET("/bridges", s.ListBridges)
	r.GET("/bridges/:id", s.GetBridge)
	r.POST("/bridges/:id/accept", s.AcceptBridge)
	r.POST("/bridges/:id/reject", s.RejectBridge)
	r.POST("/bridges/expire", s.ExpireBridges)

	return r
}

// fail maps the core error taxonomy onto HTTP statuses. Conflicts carry
// their detail through so a reviewer sees which person or edge blocked
// the operation.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case model.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrInvalidRelationshipType):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrWeakHint):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrRequestExpired):
		status = http.StatusGone
	case errors.Is(err, model.ErrCycleDetected),
		errors.Is(err, model.ErrMergeConflict),
		errors.Is(err, model.ErrRequestSettled):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.Log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) CreatePerson(c *gin.Context) {
	var p model.Person
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	created, err := s.Store.AddPerson(c.Request.Context(), p)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) ListPersons(c *gin.Context) {
	persons, err := s.Store.ListPersons(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"persons": persons})
}

func (s *Server) GetPerson(c *gin.Context) {
	p, err := s.Store.GetPerson(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) UpdatePerson(c *gin.Context) {
	var p model.Person
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	p.ID = c.Param("id")
	if err := s.Store.UpdatePerson(c.Request.Context(), p); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) PersonRelationships(c *gin.Context) {
	edges, err := s.Store.EdgesOf(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"relationships": edges})
}

type traversalQuery struct {
	Depth int `form:"depth"`
}

func (s *Server) Ancestors(c *gin.Context) {
	var q traversalQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid depth"})
		return
	}
	res, err := s.Store.Traversal().AncestorsOf(c.Request.Context(), c.Param("id"), q.Depth)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"root": res.Root, "nodes": res.Nodes, "truncated": res.Truncated})
}

func (s *Server) Descendants(c *gin.Context) {
	var q traversalQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid depth"})
		return
	}
	res, err := s.Store.Traversal().DescendantsOf(c.Request.Context(), c.Param("id"), q.Depth)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"root": res.Root, "nodes": res.Nodes, "truncated": res.Truncated})
}

type addRelationshipRequest struct {
	FromID     string               `json:"from_id" binding:"required"`
	ToID       string               `json:"to_id" binding:"required"`
	TypeCode   string               `json:"type_code" binding:"required"`
	Qualifiers model.EdgeQualifiers `json:"qualifiers"`
}

func (s *Server) AddRelationship(c *gin.Context) {
	var req addRelationshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	id, err := s.Store.AddEdge(c.Request.Context(), req.FromID, req.ToID, req.TypeCode, req.Qualifiers)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) RemoveRelationship(c *gin.Context) {
	if err := s.Store.RemoveEdge(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

type classifyQuery struct {
	A      string `form:"a" binding:"required"`
	B      string `form:"b" binding:"required"`
	Locale string `form:"locale"`
}

func (s *Server) Classify(c *gin.Context) {
	var q classifyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query params a and b are required"})
		return
	}
	locale := catalog.Locale(q.Locale)
	if locale == "" {
		locale = catalog.LocaleEN
	}

	cls, err := s.Classifier.Classify(c.Request.Context(), q.A, q.B)
	if err != nil {
		s.fail(c, err)
		return
	}
	b, err := s.Store.GetPerson(c.Request.Context(), q.B)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"classification": cls,
		"label":          s.Resolver.Label(cls, locale, b.Gender),
		"locale":         locale,
	})
}

type checkDuplicateRequest struct {
	ProfileAID string `json:"profile_a" binding:"required"`
	ProfileBID string `json:"profile_b" binding:"required"`
}

func (s *Server) CheckDuplicate(c *gin.Context) {
	var req checkDuplicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	dup, err := s.Detector.Propose(c.Request.Context(), req.ProfileAID, req.ProfileBID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dup)
}

type scanQuery struct {
	MinConfidence float64 `form:"min_confidence"`
}

func (s *Server) ScanDuplicates(c *gin.Context) {
	var q scanQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid min_confidence"})
		return
	}
	proposed, err := s.Detector.Scan(c.Request.Context(), q.MinConfidence)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposed": proposed})
}

func (s *Server) ListDuplicates(c *gin.Context) {
	status := model.DuplicateStatus(c.Query("status"))
	dups, err := s.Reviewer.List(c.Request.Context(), status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"duplicates": dups})
}

func (s *Server) GetDuplicate(c *gin.Context) {
	dup, err := s.Reviewer.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dup)
}

type confirmDuplicateRequest struct {
	KeptProfileID string `json:"kept_profile_id" binding:"required"`
	ReviewedBy    string `json:"reviewed_by"`
}

func (s *Server) ConfirmDuplicate(c *gin.Context) {
	var req confirmDuplicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kept_profile_id is required"})
		return
	}
	res, err := s.Reviewer.Confirm(c.Request.Context(), c.Param("id"), req.KeptProfileID, req.ReviewedBy)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type rejectDuplicateRequest struct {
	ReviewedBy string `json:"reviewed_by"`
}

func (s *Server) RejectDuplicate(c *gin.Context) {
	var req rejectDuplicateRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.Reviewer.Reject(c.Request.Context(), c.Param("id"), req.ReviewedBy); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

type proposeBridgeRequest struct {
	RequesterID string             `json:"requester_id" binding:"required"`
	TargetID    string             `json:"target_id" binding:"required"`
	ClaimedType string             `json:"claimed_relationship" binding:"required"`
	Hint        model.AncestorHint `json:"common_ancestor_hint"`
}

func (s *Server) ProposeBridge(c *gin.Context) {
	var req proposeBridgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	br, err := s.Bridges.Propose(c.Request.Context(), req.RequesterID, req.TargetID, req.ClaimedType, req.Hint)
	if err != nil {
		s.fail(c, err)
		return
	}
	// A bridge between already-connected profiles is legal but usually a
	// mistake; surface it so the client can warn.
	connected, err := s.Clusters.SameTree(c.Request.Context(), req.RequesterID, req.TargetID)
	if err != nil {
		s.Log.Warn("tree membership check failed", "error", err)
	}
	c.JSON(http.StatusCreated, gin.H{"request": br, "already_connected": connected})
}

func (s *Server) ListTrees(c *gin.Context) {
	trees, err := s.Clusters.Trees(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trees": trees})
}

func (s *Server) ListBridges(c *gin.Context) {
	status := model.BridgeStatus(c.Query("status"))
	reqs, err := s.Bridges.List(c.Request.Context(), status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bridge_requests": reqs})
}

func (s *Server) GetBridge(c *gin.Context) {
	req, err := s.Bridges.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type acceptBridgeRequest struct {
	EstablishedType string `json:"established_relationship_type"`
}

func (s *Server) AcceptBridge(c *gin.Context) {
	var req acceptBridgeRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	br, err := s.Bridges.Accept(c.Request.Context(), c.Param("id"), req.EstablishedType)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, br)
}

type rejectBridgeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) RejectBridge(c *gin.Context) {
	var req rejectBridgeRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	br, err := s.Bridges.Reject(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, br)
}

func (s *Server) ExpireBridges(c *gin.Context) {
	n, err := s.Bridges.ExpireStale(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}
