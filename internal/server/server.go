// Package server exposes the operator HTTP backend: traveler routes backed
// by the builder client and delegated-access routes backed by the user client.
package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mkarech/skyvault/internal/errs"
	"github.com/mkarech/skyvault/internal/limiter"
	"github.com/mkarech/skyvault/internal/model"
	"github.com/mkarech/skyvault/internal/nuc"
	"github.com/mkarech/skyvault/internal/travel"
	"github.com/mkarech/skyvault/internal/vault"
)

const delegationTTL = time.Hour

// Server wires the travel service and vault clients into HTTP handlers.
type Server struct {
	travel  *travel.Service
	builder *vault.BuilderClient
	user    *vault.UserClient
	lim     limiter.Limiter
	log     *zap.Logger
}

// New constructs a server. user may be nil; delegated-access routes then
// report the signer as unavailable. lim may be nil for unmetered matching.
func New(travelSvc *travel.Service, builder *vault.BuilderClient, user *vault.UserClient, lim limiter.Limiter, log *zap.Logger) *Server {
	if lim == nil {
		lim = limiter.Unlimited{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{travel: travelSvc, builder: builder, user: user, lim: lim, log: log}
}

// Routes registers all handlers on e.
func (s *Server) Routes(e *echo.Echo) {
	e.Use(Recover(s.log), Logging(s.log))

	e.GET("/", s.health)
	e.GET("/allevents", s.allEvents)
	e.GET("/getalltravelersbyeventname/:eventname", s.travelersByEvent)
	e.POST("/storedata", s.storeData)
	e.POST("/getmatchingtraveler", s.matchTraveler)

	e.GET("/createcollection", s.createCollection)
	e.POST("/upload/:collectionId", s.upload)
	e.GET("/readdata/:collectionId/:id", s.readData)
	e.GET("/viewlist", s.viewList)
	e.GET("/travellist/:collectionId", s.travelList)
	e.GET("/delete/:collectionId/:id", s.deleteData)
	e.GET("/grantaccess/:collectionId/:id", s.grantAccess)
	e.GET("/revokeaccess/:collectionId/:id", s.revokeAccess)
}

type errorBody struct {
	Error string `json:"error"`
}

// All failures surface as 500 with an error message; callers distinguish
// causes by text, not status.
func fail(c echo.Context, err error) error {
	return c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
}

func (s *Server) health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) allEvents(c echo.Context) error {
	ctx := c.Request().Context()
	col, err := s.travel.EnsureCollection(ctx, s.builder.DID())
	if err != nil {
		return fail(c, err)
	}
	events, err := s.travel.AllEvents(ctx, col)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"events": events})
}

func (s *Server) travelersByEvent(c echo.Context) error {
	ctx := c.Request().Context()
	col, err := s.travel.EnsureCollection(ctx, s.builder.DID())
	if err != nil {
		return fail(c, err)
	}
	travelers, err := s.travel.TravelersByEvent(ctx, col, c.Param("eventname"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"travelers": travelers})
}

func (s *Server) storeData(c echo.Context) error {
	ctx := c.Request().Context()
	var t model.Traveler
	if err := c.Bind(&t); err != nil {
		return fail(c, err)
	}
	col, err := s.travel.EnsureCollection(ctx, s.builder.DID())
	if err != nil {
		return fail(c, err)
	}
	id, err := s.travel.StoreTraveler(ctx, col, t)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"newIds": []string{id}})
}

type matchRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) matchTraveler(c echo.Context) error {
	ctx := c.Request().Context()

	ipHash := limiter.HashIP(c.RealIP())
	ok, retryAfter, err := s.lim.Allow(ctx, ipHash)
	if err != nil {
		return fail(c, err)
	}
	if !ok {
		return fail(c, fmt.Errorf("%w: retry in %s", errs.ErrRateLimited, retryAfter.Round(time.Second)))
	}

	var req matchRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, err)
	}
	if req.Prompt == "" {
		return fail(c, fmt.Errorf("prompt is required"))
	}
	col, err := s.travel.EnsureCollection(ctx, s.builder.DID())
	if err != nil {
		return fail(c, err)
	}
	matched, err := s.travel.MatchTravelers(ctx, col, req.Prompt)
	if err != nil {
		return fail(c, err)
	}
	if err := s.lim.Record(ctx, ipHash); err != nil {
		s.log.Warn("record metered call", zap.Error(err))
	}
	return c.JSON(http.StatusOK, map[string]any{"data": matched})
}

func (s *Server) createCollection(c echo.Context) error {
	id, err := s.travel.NewCollection(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"collectionId": id})
}

func (s *Server) upload(c echo.Context) error {
	ctx := c.Request().Context()
	if s.user == nil {
		return fail(c, errs.ErrSignerUnavailable)
	}
	var t model.Traveler
	if err := c.Bind(&t); err != nil {
		return fail(c, err)
	}

	delegation, err := s.builder.Delegate(nuc.CmdDataCreate, s.user.DID(), delegationTTL)
	if err != nil {
		return fail(c, err)
	}
	ids, err := s.user.CreateData(ctx, delegation, vault.CreateDataArgs{
		Owner: s.user.DID(),
		ACL: &model.ACL{
			Grantee: s.builder.DID(),
			Read:    true,
			Write:   false,
			Execute: true,
		},
		Collection: c.Param("collectionId"),
		Data:       []model.Record{travel.OwnedRecord(t)},
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"newIds": ids})
}

func (s *Server) readData(c echo.Context) error {
	if s.user == nil {
		return fail(c, errs.ErrSignerUnavailable)
	}
	rec, err := s.user.ReadData(c.Request().Context(), model.DataReference{
		Collection: c.Param("collectionId"),
		Document:   c.Param("id"),
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"userData": rec})
}

func (s *Server) viewList(c echo.Context) error {
	if s.user == nil {
		return fail(c, errs.ErrSignerUnavailable)
	}
	refs, err := s.user.ListDataReferences(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"references": refs})
}

func (s *Server) travelList(c echo.Context) error {
	ctx := c.Request().Context()
	if s.user == nil {
		return fail(c, errs.ErrSignerUnavailable)
	}
	refs, err := s.user.ListDataReferences(ctx)
	if err != nil {
		return fail(c, err)
	}
	col := c.Param("collectionId")
	data := []model.Record{}
	for _, ref := range refs {
		if ref.Collection != col {
			continue
		}
		rec, err := s.user.ReadData(ctx, ref)
		if err != nil {
			// skip unreadable records, list what we can
			s.log.Warn("read owned record", zap.String("document", ref.Document), zap.Error(err))
			continue
		}
		data = append(data, rec)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": data})
}

func (s *Server) deleteData(c echo.Context) error {
	if s.user == nil {
		return fail(c, errs.ErrSignerUnavailable)
	}
	id := c.Param("id")
	err := s.user.DeleteData(c.Request().Context(), model.DataReference{
		Collection: c.Param("collectionId"),
		Document:   id,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"msg": id + " deleted"})
}

func (s *Server) grantAccess(c echo.Context) error {
	if s.user == nil {
		return fail(c, errs.ErrSignerUnavailable)
	}
	grantee := c.QueryParam("grantee")
	if grantee == "" {
		grantee = s.builder.DID()
	}
	acl := model.ACL{
		Grantee: grantee,
		Read:    true,
		Write:   boolParam(c, "write"),
		Execute: boolParam(c, "execute"),
	}
	err := s.user.GrantAccess(c.Request().Context(), model.DataReference{
		Collection: c.Param("collectionId"),
		Document:   c.Param("id"),
	}, acl)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"msg": "Success"})
}

func (s *Server) revokeAccess(c echo.Context) error {
	if s.user == nil {
		return fail(c, errs.ErrSignerUnavailable)
	}
	grantee := c.QueryParam("grantee")
	if grantee == "" {
		grantee = s.builder.DID()
	}
	err := s.user.RevokeAccess(c.Request().Context(), model.DataReference{
		Collection: c.Param("collectionId"),
		Document:   c.Param("id"),
	}, grantee)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"msg": "Success"})
}

func boolParam(c echo.Context, name string) bool {
	v, _ := strconv.ParseBool(c.QueryParam(name))
	return v
}
