package testsupport

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Route patterns served by Authority. Use them with Hold, FailNext and Calls.
const (
	RouteListBooks  = "GET /v1/books"
	RouteGetBook    = "GET /v1/books/{id}"
	RouteCreateBook = "POST /v1/books"
	RouteDeleteBook = "DELETE /v1/books/{id}"
	RouteListLoans  = "GET /v1/loans"
	RouteCheckout   = "POST /v1/loans"
	RouteReturn     = "POST /v1/loans/{id}/return"
	RouteWhoami     = "GET /v1/whoami"
	RouteHealth     = "GET /health"
	RouteUsers      = "GET /v1/users"
	RouteAnalytics  = "GET /v1/analytics/summary"
)

// Book is the authority's wire shape of a catalogue item.
type Book struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Description     *string   `json:"description"`
	ISBN            *string   `json:"isbn"`
	PublishedYear   *int      `json:"publishedYear"`
	AvailableCopies int       `json:"availableCopies"`
	CoverImageURL   *string   `json:"coverImageUrl"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Loan is the authority's wire shape of a lending record.
type Loan struct {
	ID                string     `json:"id"`
	BookID            string     `json:"bookId"`
	BorrowerUserID    *string    `json:"borrowerUserId"`
	BorrowerName      *string    `json:"borrowerName"`
	Status            string     `json:"status"`
	BorrowedAt        time.Time  `json:"borrowedAt"`
	ReturnedAt        *time.Time `json:"returnedAt"`
	ProcessedBy       *string    `json:"processedBy,omitempty"`
	BookTitle         string     `json:"bookTitle"`
	BookAuthor        string     `json:"bookAuthor"`
	BookCoverImageURL *string    `json:"bookCoverImageUrl"`
}

// User is a borrower directory entry.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

// Session is what a bearer token stands for.
type Session struct {
	UserID string
	Role   string
}

func (s Session) staff() bool {
	return s.Role == "admin" || s.Role == "librarian"
}

type failure struct {
	status  int
	code    string
	message string
}

// Authority is an in-process stand-in for the catalogue authority. It keeps
// its own state, enforces the same domain rules, and lets tests hold or fail
// individual routes and count the requests each route received.
type Authority struct {
	server *httptest.Server

	mu       sync.Mutex
	books    map[string]*Book
	loans    map[string]*Loan
	users    []User
	sessions map[string]Session
	seq      int
	epoch    time.Time

	calls    map[string]int
	holds    map[string]chan struct{}
	failures map[string][]failure
}

// NewAuthority starts an Authority and stops it when the test ends.
func NewAuthority(t testing.TB) *Authority {
	t.Helper()
	a := &Authority{
		books:    make(map[string]*Book),
		loans:    make(map[string]*Loan),
		sessions: make(map[string]Session),
		epoch:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		calls:    make(map[string]int),
		holds:    make(map[string]chan struct{}),
		failures: make(map[string][]failure),
	}

	mux := http.NewServeMux()
	a.route(mux, RouteListBooks, a.listBooks)
	a.route(mux, RouteGetBook, a.getBook)
	a.route(mux, RouteCreateBook, a.createBook)
	a.route(mux, RouteDeleteBook, a.deleteBook)
	a.route(mux, RouteListLoans, a.listLoans)
	a.route(mux, RouteCheckout, a.checkout)
	a.route(mux, RouteReturn, a.returnLoan)
	a.route(mux, RouteWhoami, a.whoami)
	a.route(mux, RouteHealth, a.health)
	a.route(mux, RouteUsers, a.listUsers)
	a.route(mux, RouteAnalytics, a.analytics)

	a.server = httptest.NewServer(mux)
	t.Cleanup(a.Close)
	return a
}

// URL is the base URL of the authority.
func (a *Authority) URL() string {
	return a.server.URL
}

// Close releases held routes and stops the server.
func (a *Authority) Close() {
	a.mu.Lock()
	for route, ch := range a.holds {
		close(ch)
		delete(a.holds, route)
	}
	a.mu.Unlock()
	a.server.Close()
}

// AddSession registers a bearer token.
func (a *Authority) AddSession(token, userID, role string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[token] = Session{UserID: userID, Role: role}
	a.users = append(a.users, User{ID: userID, DisplayName: userID})
}

// AddBook stores a book and returns its id. Books added later sort as newer.
func (a *Authority) AddBook(title, author string, copies int) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addBook(title, author, copies)
}

func (a *Authority) addBook(title, author string, copies int) string {
	now := a.tick()
	id := fmt.Sprintf("b%03d", a.seq)
	a.books[id] = &Book{ID: id, Title: title, Author: author, AvailableCopies: copies, CreatedAt: now, UpdatedAt: now}
	return id
}

// SetCopies overwrites the copy count of a book, as another client would.
func (a *Authority) SetCopies(id string, copies int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.books[id]; ok {
		b.AvailableCopies = copies
		b.UpdatedAt = a.tick()
	}
}

// Book returns the authority's copy of a book.
func (a *Authority) Book(id string) (Book, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.books[id]
	if !ok {
		return Book{}, false
	}
	return *b, true
}

// Hold makes requests to route block until the returned release is called.
func (a *Authority) Hold(route string) (release func()) {
	a.mu.Lock()
	ch := make(chan struct{})
	a.holds[route] = ch
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			if a.holds[route] == ch {
				delete(a.holds, route)
			}
			a.mu.Unlock()
			close(ch)
		})
	}
}

// FailNext makes the next request to route answer with an error body.
// An empty code produces a body-less HTTP failure.
func (a *Authority) FailNext(route string, status int, code, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[route] = append(a.failures[route], failure{status: status, code: code, message: message})
}

// Calls reports how many requests route received.
func (a *Authority) Calls(route string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[route]
}

type handler func(w http.ResponseWriter, r *http.Request, s *Session)

func (a *Authority) route(mux *http.ServeMux, pattern string, h handler) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.calls[pattern]++
		hold := a.holds[pattern]
		var fail *failure
		if queued := a.failures[pattern]; len(queued) > 0 {
			fail = &queued[0]
			a.failures[pattern] = queued[1:]
		}
		a.mu.Unlock()

		if hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
				return
			}
		}
		if fail != nil {
			if fail.code == "" {
				w.WriteHeader(fail.status)
				return
			}
			writeError(w, fail.status, fail.code, fail.message)
			return
		}

		a.mu.Lock()
		defer a.mu.Unlock()
		h(w, r, a.session(r))
	})
}

func (a *Authority) session(r *http.Request) *Session {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return nil
	}
	s, ok := a.sessions[token]
	if !ok {
		return &Session{}
	}
	return &s
}

func (a *Authority) tick() time.Time {
	a.seq++
	return a.epoch.Add(time.Duration(a.seq) * time.Minute)
}

func requireSession(w http.ResponseWriter, s *Session) bool {
	switch {
	case s == nil:
		writeError(w, http.StatusUnauthorized, "AUTH_MISSING", "Authentication required")
		return false
	case s.UserID == "":
		writeError(w, http.StatusUnauthorized, "AUTH_INVALID", "Invalid token")
		return false
	}
	return true
}

func requireStaff(w http.ResponseWriter, s *Session) bool {
	if !requireSession(w, s) {
		return false
	}
	if !s.staff() {
		writeError(w, http.StatusForbidden, "AUTH_FORBIDDEN", "Insufficient permissions")
		return false
	}
	return true
}

func (a *Authority) listBooks(w http.ResponseWriter, r *http.Request, _ *Session) {
	q := r.URL.Query()
	text := strings.ToLower(q.Get("query"))
	author := strings.ToLower(q.Get("author"))
	availableOnly := q.Get("availableOnly") == "true"

	var list []*Book
	for _, b := range a.books {
		if text != "" && !strings.Contains(strings.ToLower(b.Title), text) && !strings.Contains(strings.ToLower(b.Author), text) {
			continue
		}
		if author != "" && !strings.Contains(strings.ToLower(b.Author), author) {
			continue
		}
		if availableOnly && b.AvailableCopies <= 0 {
			continue
		}
		list = append(list, b)
	}

	switch sort := q.Get("sort"); sort {
	case "", "createdAt:desc":
		slices.SortFunc(list, func(x, y *Book) int { return y.CreatedAt.Compare(x.CreatedAt) })
	case "createdAt:asc":
		slices.SortFunc(list, func(x, y *Book) int { return x.CreatedAt.Compare(y.CreatedAt) })
	case "title:asc":
		slices.SortFunc(list, func(x, y *Book) int { return strings.Compare(strings.ToLower(x.Title), strings.ToLower(y.Title)) })
	default:
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown sort "+sort)
		return
	}

	page, next, ok := paginate(w, list, q.Get("cursor"), q.Get("limit"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": page, "nextCursor": next})
}

func (a *Authority) getBook(w http.ResponseWriter, r *http.Request, _ *Session) {
	b, ok := a.books[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Book not found")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *Authority) createBook(w http.ResponseWriter, r *http.Request, s *Session) {
	if !requireStaff(w, s) {
		return
	}
	var in struct {
		Title           string  `json:"title"`
		Author          string  `json:"author"`
		Description     *string `json:"description"`
		ISBN            *string `json:"isbn"`
		PublishedYear   *int    `json:"publishedYear"`
		AvailableCopies *int    `json:"availableCopies"`
		CoverImageURL   *string `json:"coverImageUrl"`
	}
	if !readJSON(w, r, &in) {
		return
	}
	details := map[string]any{}
	if strings.TrimSpace(in.Title) == "" {
		details["title"] = "must not be empty"
	}
	if strings.TrimSpace(in.Author) == "" {
		details["author"] = "must not be empty"
	}
	copies := 1
	if in.AvailableCopies != nil {
		copies = *in.AvailableCopies
	}
	if copies < 0 {
		details["availableCopies"] = "must be >= 0"
	}
	if len(details) > 0 {
		writeErrorDetails(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid book", details)
		return
	}

	id := a.addBook(strings.TrimSpace(in.Title), strings.TrimSpace(in.Author), copies)
	b := a.books[id]
	b.Description, b.ISBN, b.PublishedYear, b.CoverImageURL = in.Description, in.ISBN, in.PublishedYear, in.CoverImageURL
	writeJSON(w, http.StatusCreated, b)
}

func (a *Authority) deleteBook(w http.ResponseWriter, r *http.Request, s *Session) {
	if !requireStaff(w, s) {
		return
	}
	id := r.PathValue("id")
	if _, ok := a.books[id]; !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Book not found")
		return
	}
	delete(a.books, id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *Authority) listLoans(w http.ResponseWriter, r *http.Request, s *Session) {
	if !requireSession(w, s) {
		return
	}
	q := r.URL.Query()
	all := q.Get("all") == "true" && s.staff()
	bookID := q.Get("bookId")
	status := q.Get("status")

	var list []*Loan
	for _, l := range a.loans {
		if !all && (l.BorrowerUserID == nil || *l.BorrowerUserID != s.UserID) {
			continue
		}
		if bookID != "" && l.BookID != bookID {
			continue
		}
		if status != "" && l.Status != status {
			continue
		}
		list = append(list, l)
	}
	slices.SortFunc(list, func(x, y *Loan) int { return y.BorrowedAt.Compare(x.BorrowedAt) })

	page, next, ok := paginate(w, list, q.Get("cursor"), q.Get("limit"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": page, "nextCursor": next})
}

func (a *Authority) checkout(w http.ResponseWriter, r *http.Request, s *Session) {
	if !requireSession(w, s) {
		return
	}
	var in struct {
		BookID         string `json:"bookId"`
		BorrowerUserID string `json:"borrowerUserId"`
		BorrowerName   string `json:"borrowerName"`
	}
	if !readJSON(w, r, &in) {
		return
	}
	if in.BorrowerUserID != "" && in.BorrowerName != "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "borrowerUserId and borrowerName are mutually exclusive")
		return
	}
	onBehalf := in.BorrowerUserID != "" || in.BorrowerName != ""
	if onBehalf && !s.staff() {
		writeError(w, http.StatusForbidden, "AUTH_FORBIDDEN", "Insufficient permissions")
		return
	}

	b, ok := a.books[in.BookID]
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Book not found")
		return
	}
	loan := &Loan{Status: "borrowed", BookID: b.ID, BookTitle: b.Title, BookAuthor: b.Author, BookCoverImageURL: b.CoverImageURL}
	switch {
	case in.BorrowerName != "":
		name := in.BorrowerName
		loan.BorrowerName = &name
	case in.BorrowerUserID != "":
		user := in.BorrowerUserID
		loan.BorrowerUserID = &user
	default:
		user := s.UserID
		loan.BorrowerUserID = &user
	}
	if onBehalf {
		by := s.UserID
		loan.ProcessedBy = &by
	}

	if loan.BorrowerUserID != nil {
		for _, l := range a.loans {
			if l.BookID == b.ID && l.Status == "borrowed" && l.BorrowerUserID != nil && *l.BorrowerUserID == *loan.BorrowerUserID {
				writeError(w, http.StatusConflict, "ALREADY_BORROWED", "You already have this book")
				return
			}
		}
	}
	if b.AvailableCopies <= 0 {
		writeError(w, http.StatusConflict, "BOOK_UNAVAILABLE", "No copies available")
		return
	}

	now := a.tick()
	b.AvailableCopies--
	b.UpdatedAt = now
	loan.ID = fmt.Sprintf("l%03d", a.seq)
	loan.BorrowedAt = now
	a.loans[loan.ID] = loan
	writeJSON(w, http.StatusCreated, loan)
}

func (a *Authority) returnLoan(w http.ResponseWriter, r *http.Request, s *Session) {
	if !requireSession(w, s) {
		return
	}
	l, ok := a.loans[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Loan not found")
		return
	}
	own := l.BorrowerUserID != nil && *l.BorrowerUserID == s.UserID
	if !own && !s.staff() {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Not your loan")
		return
	}
	if l.Status == "returned" {
		writeError(w, http.StatusConflict, "LOAN_ALREADY_RETURNED", "Loan already returned")
		return
	}

	now := a.tick()
	l.Status = "returned"
	l.ReturnedAt = &now
	if b, ok := a.books[l.BookID]; ok {
		b.AvailableCopies++
		b.UpdatedAt = now
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *Authority) whoami(w http.ResponseWriter, _ *http.Request, s *Session) {
	if !requireSession(w, s) {
		return
	}
	perms := []string{}
	if s.staff() {
		perms = []string{"manage_books", "manage_loans", "view_all_loans"}
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": s.UserID, "permissions": perms})
}

func (a *Authority) health(w http.ResponseWriter, _ *http.Request, _ *Session) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Authority) listUsers(w http.ResponseWriter, r *http.Request, s *Session) {
	if !requireStaff(w, s) {
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	users := a.users
	if len(users) > limit {
		users = users[:limit]
	}
	if users == nil {
		users = []User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *Authority) analytics(w http.ResponseWriter, r *http.Request, s *Session) {
	if !requireStaff(w, s) {
		return
	}
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days <= 0 {
		days = 30
	}
	var active, returned, copies int
	for _, l := range a.loans {
		if l.Status == "borrowed" {
			active++
		} else {
			returned++
		}
	}
	for _, b := range a.books {
		copies += b.AvailableCopies
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"windowDays": days,
		"metrics": map[string]any{
			"totalBooks":           len(a.books),
			"totalLoans":           len(a.loans),
			"activeLoans":          active,
			"returnedLoans":        returned,
			"totalAvailableCopies": copies,
			"trendingBooks":        []any{},
			"lowStockAlerts":       []any{},
			"dormantBooks":         []any{},
		},
		"ai": map[string]any{"summary": "", "insights": []string{}, "recommendedActions": []string{}},
	})
}

// paginate slices list at an opaque offset cursor.
func paginate[T any](w http.ResponseWriter, list []T, cursor, limitParam string) ([]T, *string, bool) {
	limit := 20
	if limitParam != "" {
		n, err := strconv.Atoi(limitParam)
		if err != nil || n < 1 || n > 200 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be between 1 and 200")
			return nil, nil, false
		}
		limit = n
	}

	offset := 0
	if cursor != "" {
		raw, err := base64.URLEncoding.DecodeString(cursor)
		var c struct {
			Offset int `json:"offset"`
		}
		if err != nil || json.Unmarshal(raw, &c) != nil || c.Offset < 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid cursor")
			return nil, nil, false
		}
		offset = min(c.Offset, len(list))
	}

	end := min(offset+limit, len(list))
	page := list[offset:end]
	if page == nil {
		page = []T{}
	}
	if end >= len(list) {
		return page, nil, true
	}
	raw, _ := json.Marshal(map[string]int{"offset": end})
	next := base64.URLEncoding.EncodeToString(raw)
	return page, &next, true
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(r.Body)
	if err == nil && len(body) > 0 {
		err = json.Unmarshal(body, dst)
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "malformed body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorDetails(w, status, code, message, nil)
}

func writeErrorDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	body := map[string]any{"code": code, "message": message}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, map[string]any{"error": body})
}
