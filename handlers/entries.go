package handlers

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/schema"

	"github.com/CrowderSoup/email-collector/database"
)

const (
	defaultFormat   = "txt"
	exportBaseName  = "email-list"
	maxImportErrors = 10
)

var (
	emailPattern   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	filenameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9]`)
	queryDecoder   = newQueryDecoder()
	exportFormats  = map[string]string{
		"txt": "text/plain; charset=utf-8",
		"csv": "text/csv; charset=utf-8",
	}
)

func newQueryDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

// EntryStore is the storage behind the entry routes
type EntryStore interface {
	FetchAll(ctx context.Context) ([]database.Entry, error)
	Search(ctx context.Context, query string) ([]database.Entry, error)
	Append(ctx context.Context, email string, password *string) (*database.Entry, error)
	Import(ctx context.Context, records []database.ImportRecord) (database.ImportResult, error)
	Update(ctx context.Context, id int64, email string, password *string) (*database.Entry, error)
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) (int64, error)
	BulkSetOrder(ctx context.Context, assignments []database.OrderAssignment) error
}

// ChangeNotifier tells open sessions that storage changed
type ChangeNotifier interface {
	Changed()
}

// EntryHandler handles the entry collection endpoints
type EntryHandler struct {
	store EntryStore
	hub   ChangeNotifier
}

func NewEntryHandler(store EntryStore, hub ChangeNotifier) *EntryHandler {
	return &EntryHandler{
		store: store,
		hub:   hub,
	}
}

type entryRequest struct {
	Email    string  `json:"email"`
	Password *string `json:"password"`
}

type listParams struct {
	Query  string `schema:"q"`
	Format string `schema:"format"`
}

// normalizeEmail lower-cases and trims, then checks the address shape
func normalizeEmail(raw string) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(raw))
	return email, emailPattern.MatchString(email)
}

// normalizePassword treats a blank password as none
func normalizePassword(raw *string) *string {
	if raw == nil || *raw == "" {
		return nil
	}
	return raw
}

// List returns every entry in display order
func (h *EntryHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.FetchAll(r.Context())
	if err != nil {
		writeStorageError(w, err, "Failed to fetch entries")
		return
	}
	writeSuccess(w, http.StatusOK, entries)
}

// Search returns entries whose email or password contains q
func (h *EntryHandler) Search(w http.ResponseWriter, r *http.Request) {
	var params listParams
	if err := queryDecoder.Decode(&params, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query parameters")
		return
	}

	query := strings.TrimSpace(params.Query)
	if query == "" {
		writeError(w, http.StatusBadRequest, "Search query is required")
		return
	}

	entries, err := h.store.Search(r.Context(), query)
	if err != nil {
		writeStorageError(w, err, "Failed to search entries")
		return
	}
	writeSuccess(w, http.StatusOK, entries)
}

// Create appends a new entry at the tail
func (h *EntryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	email, ok := normalizeEmail(req.Email)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}

	entry, err := h.store.Append(r.Context(), email, normalizePassword(req.Password))
	if err != nil {
		writeStorageError(w, err, "Failed to add entry")
		return
	}

	log.Printf("Entry %d added", entry.ID)
	h.hub.Changed()
	writeSuccess(w, http.StatusCreated, entry)
}

// Update edits an entry inline
func (h *EntryHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}

	var req entryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	email, ok := normalizeEmail(req.Email)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}

	entry, err := h.store.Update(r.Context(), id, email, normalizePassword(req.Password))
	if err != nil {
		writeStorageError(w, err, "Failed to update entry")
		return
	}

	h.hub.Changed()
	writeSuccess(w, http.StatusOK, entry)
}

// Delete removes one entry
func (h *EntryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		writeStorageError(w, err, "Failed to delete entry")
		return
	}

	log.Printf("Entry %d deleted", id)
	h.hub.Changed()
	writeSuccess(w, http.StatusOK, map[string]int64{"id": id})
}

// DeleteAll clears the collection
func (h *EntryHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.DeleteAll(r.Context())
	if err != nil {
		writeStorageError(w, err, "Failed to delete entries")
		return
	}

	log.Printf("Cleared %d entries", n)
	h.hub.Changed()
	writeSuccess(w, http.StatusOK, map[string]int64{"deleted": n})
}

// Reorder applies a batch of order assignments atomically
func (h *EntryHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Orders []database.OrderAssignment `json:"orders"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if len(req.Orders) == 0 {
		writeError(w, http.StatusBadRequest, "Orders array is required")
		return
	}

	if err := h.store.BulkSetOrder(r.Context(), req.Orders); err != nil {
		writeStorageError(w, err, "Failed to update order")
		return
	}

	h.hub.Changed()
	writeSuccess(w, http.StatusOK, map[string]int{"updated": len(req.Orders)})
}

// Import appends a batch of entries, skipping emails that already exist.
// JSON bodies carry an array of records; anything else is read as one
// "email[,password]" per line.
func (h *EntryHandler) Import(w http.ResponseWriter, r *http.Request) {
	var records []database.ImportRecord

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if !decodeJSON(w, r, &records) {
			return
		}
	} else {
		var err error
		records, err = parseImportText(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var invalid []string
	for i := range records {
		email, ok := normalizeEmail(records[i].Email)
		if !ok {
			if len(invalid) < maxImportErrors {
				invalid = append(invalid, fmt.Sprintf("record %d: invalid email %q", i+1, records[i].Email))
			}
			continue
		}
		records[i].Email = email
		records[i].Password = normalizePassword(records[i].Password)
	}
	if len(invalid) > 0 {
		writeError(w, http.StatusBadRequest, strings.Join(invalid, "; "))
		return
	}

	if len(records) == 0 {
		writeError(w, http.StatusBadRequest, "Nothing to import")
		return
	}

	result, err := h.store.Import(r.Context(), records)
	if err != nil {
		writeStorageError(w, err, "Failed to import entries")
		return
	}

	log.Printf("Imported %d entries, skipped %d duplicates", result.Imported, result.Skipped)
	if result.Imported > 0 {
		h.hub.Changed()
	}
	writeSuccess(w, http.StatusOK, result)
}

// Export downloads the collection, or the entries matching q, as an attachment
func (h *EntryHandler) Export(w http.ResponseWriter, r *http.Request) {
	var params listParams
	if err := queryDecoder.Decode(&params, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query parameters")
		return
	}

	format := params.Format
	if format == "" {
		format = defaultFormat
	}
	contentType, ok := exportFormats[format]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unsupported export format")
		return
	}

	query := strings.TrimSpace(params.Query)

	var (
		entries []database.Entry
		err     error
	)
	if query == "" {
		entries, err = h.store.FetchAll(r.Context())
	} else {
		entries, err = h.store.Search(r.Context(), query)
	}
	if err != nil {
		writeStorageError(w, err, "Failed to export entries")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": exportFilename(query, format),
	}))

	if format == "csv" {
		writeCSV(w, entries)
		return
	}

	for _, e := range entries {
		fmt.Fprintln(w, e.Email)
	}
}

func exportFilename(query, ext string) string {
	if query == "" {
		return exportBaseName + "." + ext
	}
	return exportBaseName + "-search-" + filenameUnsafe.ReplaceAllString(query, "_") + "." + ext
}

func writeCSV(w http.ResponseWriter, entries []database.Entry) {
	cw := csv.NewWriter(w)
	cw.Write([]string{"email", "password"})
	for _, e := range entries {
		password := ""
		if e.Password != nil {
			password = *e.Password
		}
		cw.Write([]string{e.Email, password})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		log.Printf("Error writing export: %v", err)
	}
}

func parseImportText(body io.Reader) ([]database.ImportRecord, error) {
	var records []database.ImportRecord

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		email, password, found := strings.Cut(line, ",")
		rec := database.ImportRecord{Email: strings.TrimSpace(email)}
		if found {
			pw := strings.TrimSpace(password)
			rec.Password = &pw
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read import body: %w", err)
	}

	return records, nil
}

func entryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid entry id")
		return 0, false
	}
	return id, true
}
