package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
)

// Routes mounts the public and admin surfaces on mux. admin guards every
// admin path except the OAuth callback; book wraps the booking endpoint,
// typically with a rate limiter.
type Routes struct {
	Public   *PublicHandler
	Admin    *AdminHandler
	Calendar *CalendarHandler
	AdminMW  httpx.Middleware
	BookMW   []httpx.Middleware
}

func (rt Routes) Register(mux *http.ServeMux) {
	admin := func(h http.HandlerFunc) http.Handler {
		if rt.AdminMW == nil {
			return h
		}
		return rt.AdminMW(h)
	}

	mux.HandleFunc("/api/v1/public/services", rt.Public.Services)
	mux.HandleFunc("/api/v1/public/slots", rt.Public.Slots)
	mux.Handle("/api/v1/public/book", httpx.Chain(http.HandlerFunc(rt.Public.Book), rt.BookMW...))

	mux.Handle("/api/v1/admin/hours", admin(rt.Admin.Hours))
	mux.Handle("/api/v1/admin/time-off", admin(rt.Admin.TimeOff))
	mux.Handle("/api/v1/admin/appointments", admin(rt.Admin.Appointments))
	mux.Handle("/api/v1/admin/appointments/status", admin(rt.Admin.SetStatus))
	mux.Handle("/api/v1/admin/services", admin(rt.Admin.Services))
	mux.Handle("/api/v1/admin/services/active", admin(rt.Admin.ServiceActive))

	mux.Handle("/api/v1/admin/calendar", admin(rt.Calendar.Status))
	mux.Handle("/api/v1/admin/calendar/connect", admin(rt.Calendar.Connect))
	mux.HandleFunc("/api/v1/admin/calendar/callback", rt.Calendar.Callback)
	mux.Handle("/api/v1/admin/calendar/disconnect", admin(rt.Calendar.Disconnect))
	mux.Handle("/api/v1/admin/calendar/resync", admin(rt.Calendar.Resync))
}
