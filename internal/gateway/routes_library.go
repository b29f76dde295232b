package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/notebookrag/gateway/internal/config"
	"github.com/notebookrag/gateway/internal/proxy"
	"github.com/notebookrag/gateway/internal/utils"
)

// storageScopeMap expands a UI scope filter into the storage scope labels it
// admits. The library browser filters on the gateway side because the file
// store has no notion of the UI's grouped views.
var storageScopeMap = map[string][]string{
	"personal": {"personal"},
	"team":     {"org", "team"},
	"org":      {"org", "department"},
	"company":  {"company", "org", "global", "team", "department"},
}

func matchesStorageScope(value, filter string) bool {
	if filter == "" {
		return true
	}
	normalized := strings.ToLower(value)
	if normalized == "" {
		return filter == "personal"
	}
	allowed, ok := storageScopeMap[filter]
	if !ok {
		allowed = []string{filter}
	}
	if normalized == "mixed" && slices.Contains(allowed, "company") {
		return true
	}
	return slices.Contains(allowed, normalized)
}

// folderScopeFilters is the folder-level variant: a mixed folder shows up in
// every shared view but never in the personal one.
var folderScopeFilters = map[string][]string{
	"personal": {"personal"},
	"team":     {"org", "team"},
	"org":      {"org", "department"},
	"company":  {"company", "org", "global", "team", "mixed"},
}

func folderMatchesScope(value, filter string) bool {
	if filter == "" {
		return true
	}
	normalized := strings.ToLower(value)
	if normalized == "" {
		normalized = "personal"
	}
	if normalized == "mixed" {
		return filter != "personal"
	}
	allowed, ok := folderScopeFilters[filter]
	if !ok {
		allowed = []string{filter}
	}
	return slices.Contains(allowed, normalized)
}

// normalizeFolder canonicalizes a folder path: leading slash, collapsed
// duplicate separators, "/" for anything empty.
func normalizeFolder(path string) string {
	cleaned := strings.TrimSpace(path)
	if cleaned == "" {
		return "/"
	}
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	for strings.Contains(cleaned, "//") {
		cleaned = strings.ReplaceAll(cleaned, "//", "/")
	}
	return cleaned
}

// normalizeStorageScope collapses upload scopes to the two the store accepts.
func normalizeStorageScope(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" || normalized == "personal" {
		return "personal"
	}
	return "org"
}

var fileNameSanitizer = strings.NewReplacer(
	"\\", "_", "/", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_",
)

// sanitizeFileName strips path separators and other characters the file store
// rejects from an uploaded name.
func sanitizeFileName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Sprintf("uploaded-%d", time.Now().UnixMilli())
	}
	return fileNameSanitizer.Replace(trimmed)
}

// libraryGet calls a library endpoint and buffers its JSON body. Library
// routes aggregate rather than relay, so the upstream body is always read in
// full here.
func (g *Gateway) libraryGet(r *http.Request, path string, query url.Values) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.Timeouts.Proxy)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.forwarder.TargetURL(path, query), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	proxy.InjectAuthHeaders(req.Header, g.cfg.APIKey)

	resp, err := g.forwarder.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, config.MaxRequestBodySize))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}

// libraryPost is libraryGet for shaped JSON writes.
func (g *Gateway) libraryPost(r *http.Request, path string, payload any) ([]byte, int, error) {
	body, err := utils.MarshalNoEscape(payload)
	if err != nil {
		return nil, 0, err
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.Timeouts.Proxy)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.forwarder.TargetURL(path, nil), bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	proxy.InjectAuthHeaders(req.Header, g.cfg.APIKey)

	resp, err := g.forwarder.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, config.MaxRequestBodySize))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}

// upstreamDetail pulls a human-readable failure reason out of an upstream
// error body, falling back to the status text.
func upstreamDetail(raw []byte, status int) string {
	if d := gjson.GetBytes(raw, "detail").String(); d != "" {
		return d
	}
	if d := gjson.GetBytes(raw, "error").String(); d != "" {
		return d
	}
	return http.StatusText(status)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(payload)
}

// handleLibraryList lists the tenant's files, filtered to the requested
// storage scope view and an optional substring search. Filtering happens here
// rather than upstream; the store only understands tenant, user and folder.
func (g *Gateway) handleLibraryList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scopeFilter := strings.ToLower(q.Get("scope"))
	if scopeFilter == "" {
		scopeFilter = "personal"
	}
	search := strings.ToLower(strings.TrimSpace(q.Get("q")))
	folder := normalizeFolder(q.Get("folder"))

	sc, err := g.resolveQueryScope(r, false)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}

	upstreamQuery := url.Values{}
	upstreamQuery.Set("tenant", sc.Tenant)
	upstreamQuery.Set("user_id", sc.UserID)
	if folder != "/" {
		upstreamQuery.Set("folder_path", folder)
	}

	raw, status, err := g.libraryGet(r, "library/files", upstreamQuery)
	if err != nil {
		g.forwarder.WriteError(w, proxy.RequestID(r), "library/files", g.forwarder.TargetURL("library/files", upstreamQuery), err)
		return
	}

	var payload struct {
		Items []map[string]any `json:"items"`
	}
	_ = json.Unmarshal(raw, &payload)

	if status < 200 || status > 299 {
		g.writeErrorDetail(w, "library_list_failed", upstreamDetail(raw, status), status)
		return
	}

	files := make([]map[string]any, 0, len(payload.Items))
	for _, item := range payload.Items {
		if !matchesStorageScope(stringField(item, "scope"), scopeFilter) {
			continue
		}
		if search != "" {
			haystack := strings.ToLower(strings.Join([]string{
				stringField(item, "original_name"),
				stringField(item, "folder_path"),
				stringField(item, "doc_type"),
				stringField(item, "status"),
			}, " "))
			if !strings.Contains(haystack, search) {
				continue
			}
		}
		files = append(files, item)
	}

	g.writeJSON(w, map[string]any{"files": files})
}

func stringField(item map[string]any, key string) string {
	if v, ok := item[key].(string); ok {
		return v
	}
	return ""
}

// handleLibraryUpload accepts a multipart upload and rebuilds the form for
// the file store: resolved tenant and user, normalized folder and storage
// scope, sanitized file name. The client's other form fields never pass
// through.
func (g *Gateway) handleLibraryUpload(w http.ResponseWriter, r *http.Request) {
	sc, err := g.resolveQueryScope(r, false)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}

	if err := r.ParseMultipartForm(config.MaxRequestBodySize); err != nil {
		g.writeError(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		g.writeError(w, "file_required", http.StatusUnprocessableEntity)
		return
	}
	defer func() { _ = file.Close() }()

	folder := normalizeFolder(r.FormValue("folder"))
	storageScope := normalizeStorageScope(r.FormValue("scope"))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("tenant", sc.Tenant)
	_ = mw.WriteField("user_id", sc.UserID)
	_ = mw.WriteField("scope", storageScope)
	_ = mw.WriteField("folder_path", folder)
	part, err := mw.CreateFormFile("file", sanitizeFileName(header.Filename))
	if err != nil {
		g.writeError(w, "failed to build upload", http.StatusInternalServerError)
		return
	}
	if _, err := io.Copy(part, file); err != nil {
		g.writeError(w, "failed to read upload", http.StatusBadRequest)
		return
	}
	_ = mw.Close()

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.Timeouts.Proxy)
	defer cancel()

	rid := proxy.RequestID(r)
	target := g.forwarder.TargetURL("library/files", nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &buf)
	if err != nil {
		g.writeError(w, "invalid proxy request", http.StatusBadRequest)
		return
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("x-request-id", rid)
	proxy.InjectAuthHeaders(req.Header, g.cfg.APIKey)

	resp, err := g.forwarder.Do(req)
	if err != nil {
		g.forwarder.WriteError(w, rid, "library/files", target, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		g.writeErrorDetail(w, "upload_failed", upstreamDetail(raw, resp.StatusCode), resp.StatusCode)
		return
	}

	proxy.RelayResponse(w, resp, rid, "library/files")
}

// handleLibraryDelete removes files from the store by their item IDs.
func (g *Gateway) handleLibraryDelete(w http.ResponseWriter, r *http.Request) {
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}

	var payload struct {
		ItemIDs []string `json:"itemIds"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		g.writeError(w, "invalid_json", http.StatusBadRequest)
		return
	}
	ids := make([]string, 0, len(payload.ItemIDs))
	for _, id := range payload.ItemIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		g.writeError(w, "itemIds_required", http.StatusUnprocessableEntity)
		return
	}

	sc, err := g.resolveQueryScope(r, false)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}

	raw, status, err := g.libraryPost(r, "library/files/delete", map[string]any{
		"tenant":   sc.Tenant,
		"user_id":  sc.UserID,
		"item_ids": ids,
	})
	if err != nil {
		g.forwarder.WriteError(w, proxy.RequestID(r), "library/files/delete", g.forwarder.TargetURL("library/files/delete", nil), err)
		return
	}
	if status < 200 || status > 299 {
		code := gjson.GetBytes(raw, "error").String()
		if code == "" {
			code = "delete_failed"
		}
		g.writeErrorDetail(w, code, upstreamDetail(raw, status), status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(raw)
}

// handleLibraryLink attaches library files to the resolved notebook. Items
// are named by store ID; path-type items belonged to the retired external
// storage bridge and are reported back as skipped.
func (g *Gateway) handleLibraryLink(w http.ResponseWriter, r *http.Request) {
	sc, err := g.resolveQueryScope(r, true)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}

	body, ok := g.readBody(w, r)
	if !ok {
		return
	}
	var payload struct {
		NotebookID string `json:"notebookId"`
		Items      []struct {
			ID   string `json:"id"`
			Path string `json:"path"`
			Type string `json:"type"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		g.writeError(w, "invalid_json", http.StatusBadRequest)
		return
	}

	notebookID := strings.TrimSpace(payload.NotebookID)
	if notebookID == "" {
		notebookID = sc.NotebookID
	}
	if len(payload.Items) == 0 {
		g.writeError(w, "items must not be empty", http.StatusUnprocessableEntity)
		return
	}

	fileIDs := make([]string, 0, len(payload.Items))
	skipped := make([]string, 0)
	for _, item := range payload.Items {
		switch {
		case item.ID != "":
			fileIDs = append(fileIDs, item.ID)
		case item.Path != "":
			skipped = append(skipped, item.Path)
		}
	}

	result := map[string]any{"ok": true}

	if len(fileIDs) > 0 {
		raw, status, err := g.libraryPost(r, "library/files/link", map[string]any{
			"tenant":         sc.Tenant,
			"user_id":        sc.UserID,
			"notebook_id":    notebookID,
			"include_global": sc.IncludeGlobal,
			"item_ids":       fileIDs,
		})
		if err != nil {
			g.forwarder.WriteError(w, proxy.RequestID(r), "library/files/link", g.forwarder.TargetURL("library/files/link", nil), err)
			return
		}
		if status < 200 || status > 299 {
			code := gjson.GetBytes(raw, "error").String()
			if code == "" {
				code = "link_failed"
			}
			g.writeErrorDetail(w, code, upstreamDetail(raw, status), status)
			return
		}
		var data any
		_ = json.Unmarshal(raw, &data)
		result["file"] = data
	}
	if len(skipped) > 0 {
		result["skipped"] = skipped
	}

	g.writeJSON(w, result)
}

// treeNode is one folder in the library tree response.
type treeNode struct {
	Path     string      `json:"path"`
	Name     string      `json:"name"`
	Scope    string      `json:"scope,omitempty"`
	Count    int         `json:"count"`
	Children []*treeNode `json:"children"`
}

type libraryFolder struct {
	Path  string `json:"path"`
	Scope string `json:"scope"`
	Count int    `json:"count"`
}

// handleLibraryTree turns the store's flat folder list into the sidebar's
// nested tree, filtered to the requested scope view.
func (g *Gateway) handleLibraryTree(w http.ResponseWriter, r *http.Request) {
	scopeFilter := strings.ToLower(r.URL.Query().Get("scope"))
	sc, err := g.resolveQueryScope(r, false)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}

	upstreamQuery := url.Values{}
	upstreamQuery.Set("tenant", sc.Tenant)
	upstreamQuery.Set("user_id", sc.UserID)

	raw, status, err := g.libraryGet(r, "library/files/folders", upstreamQuery)
	if err != nil {
		g.forwarder.WriteError(w, proxy.RequestID(r), "library/files/folders", g.forwarder.TargetURL("library/files/folders", upstreamQuery), err)
		return
	}

	var payload struct {
		Folders []libraryFolder `json:"folders"`
	}
	_ = json.Unmarshal(raw, &payload)

	if status < 200 || status > 299 {
		g.writeErrorDetail(w, "library_tree_failed", upstreamDetail(raw, status), status)
		return
	}

	folders := payload.Folders
	if scopeFilter != "" {
		folders = folders[:0:0]
		for _, f := range payload.Folders {
			if folderMatchesScope(f.Scope, scopeFilter) {
				folders = append(folders, f)
			}
		}
	}

	g.writeJSON(w, buildFolderTree(folders))
}

// buildFolderTree nests a flat folder list under a synthetic root, creating
// intermediate nodes for folders whose parents the store never reported.
func buildFolderTree(folders []libraryFolder) []*treeNode {
	nodes := map[string]*treeNode{}
	ensure := func(path string) *treeNode {
		if n, ok := nodes[path]; ok {
			return n
		}
		n := &treeNode{Path: path, Name: folderName(path), Children: []*treeNode{}}
		nodes[path] = n
		return n
	}

	normalized := make([]libraryFolder, 0, len(folders))
	for _, f := range folders {
		normalized = append(normalized, libraryFolder{
			Path:  normalizeFolder(f.Path),
			Scope: strings.ToLower(f.Scope),
			Count: f.Count,
		})
	}
	sort.Slice(normalized, func(i, j int) bool { return normalized[i].Path < normalized[j].Path })

	root := ensure("/")
	root.Name = "root"

	for _, f := range normalized {
		node := ensure(f.Path)
		if f.Scope != "" {
			node.Scope = f.Scope
		}
		if f.Count != 0 {
			node.Count = f.Count
		}
		if f.Path == "/" {
			continue
		}
		parent := ensure(parentFolder(f.Path))
		if !hasChild(parent, node.Path) {
			parent.Children = append(parent.Children, node)
		}
	}

	sortFolderTree(root)
	return []*treeNode{root}
}

func hasChild(parent *treeNode, path string) bool {
	for _, child := range parent.Children {
		if child.Path == path {
			return true
		}
	}
	return false
}

func sortFolderTree(node *treeNode) {
	sort.Slice(node.Children, func(i, j int) bool { return node.Children[i].Path < node.Children[j].Path })
	for _, child := range node.Children {
		sortFolderTree(child)
	}
}

func parentFolder(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) <= 1 {
		return "/"
	}
	return "/" + strings.Join(segments[:len(segments)-1], "/")
}

func folderName(path string) string {
	if path == "/" {
		return "root"
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	return segments[len(segments)-1]
}
