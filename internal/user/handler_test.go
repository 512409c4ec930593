package user_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/consulthub/internal"
	"github.com/frahmantamala/consulthub/internal/transport"
	"github.com/frahmantamala/consulthub/internal/user"
)

type stubProfiles map[string]*user.Profile

func (s stubProfiles) GetProfile(_ context.Context, id string) (*user.Profile, error) {
	if p, ok := s[id]; ok {
		return p, nil
	}
	return nil, internal.ErrUnknownUser
}

type stubLister struct {
	codes []string
	err   error
	calls int
}

func (s *stubLister) AllowedPermissions(context.Context, string) ([]string, error) {
	s.calls++
	return s.codes, s.err
}

var _ = Describe("User Handler", func() {
	var (
		lister  *stubLister
		handler *user.Handler
	)

	BeforeEach(func() {
		lister = &stubLister{codes: []string{"PROJECT_VIEW", "TIMESHEET_SUBMIT"}}
		profiles := stubProfiles{
			"active-1":    {ID: "active-1", Email: "a@example.com", Role: "CONSULTANT", Status: user.StatusActive},
			"suspended-1": {ID: "suspended-1", Email: "s@example.com", Role: "CONSULTANT", Status: user.StatusSuspended},
		}
		handler = user.NewHandler(&transport.BaseHandler{Logger: slogger}, profiles, lister)
	})

	me := func(actor string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
		if actor != "" {
			req = req.WithContext(internal.ContextWithActorID(req.Context(), actor))
		}
		w := httptest.NewRecorder()
		handler.GetCurrentUser(w, req)
		return w
	}

	It("returns the profile with its allowed permissions", func() {
		w := me("active-1")
		Expect(w.Code).To(Equal(http.StatusOK))

		var body map[string]interface{}
		Expect(json.NewDecoder(w.Body).Decode(&body)).To(Succeed())
		Expect(body).To(HaveKeyWithValue("id", "active-1"))
		Expect(body).To(HaveKeyWithValue("role", "CONSULTANT"))
		Expect(body["permissions"]).To(ConsistOf("PROJECT_VIEW", "TIMESHEET_SUBMIT"))
	})

	It("returns an inactive profile without permissions", func() {
		w := me("suspended-1")
		Expect(w.Code).To(Equal(http.StatusOK))

		var resp user.CurrentUserResponse
		Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
		Expect(resp.Permissions).To(BeEmpty())
		Expect(lister.calls).To(BeZero())
	})

	It("rejects an unauthenticated request", func() {
		Expect(me("").Code).To(Equal(http.StatusUnauthorized))
	})

	It("returns 404 for an unknown profile", func() {
		Expect(me("ghost").Code).To(Equal(http.StatusNotFound))
	})

	It("surfaces resolution failures", func() {
		lister.err = errors.New("db down")
		Expect(me("active-1").Code).To(Equal(http.StatusInternalServerError))
	})
})
