// Package config handles the project configuration document and the
// workspace-root directory structure. Every project managed by agentctl gets
// a .agentctl/ directory created at its workspace root; the presence of
// .agentctl/config.yaml is the "this directory is a managed project" marker
// (spec §6).
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/agentctl/agentctl/internal/errtag"
)


// MetaDir is the name of the directory created in each managed project.
const MetaDir = ".agentctl"

const schemaVersionCurrent = "1"

var agentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const defaultDocumentYAML = `# agentctl project configuration
schema_version: "1"

session_name: agentctl

agents: []

sync:
  auto_sync: false
  default_interval_secs: 300
  conflict_resolution: manual
  exclude_branches: []
  pre_sync_hooks: []
  post_sync_hooks: []

settings:
  max_command_length: 4096
  blocked_commands: []
  max_concurrent_ops: 4
  history_limit: 500
  profiles_dir: profiles
`

// AgentStatus is a tagged variant (spec §9 re-architecture note on
// string-typed enums): accepted case-insensitively on read, canonical on
// write.
type AgentStatus string

const (
	StatusInactive     AgentStatus = "inactive"
	StatusInitializing AgentStatus = "initializing"
	StatusActive       AgentStatus = "active"
	StatusPaused       AgentStatus = "paused"
	StatusError        AgentStatus = "error"
)

// ConflictResolution enumerates the sync-policy conflict strategy.
type ConflictResolution string

const (
	ConflictManual     ConflictResolution = "manual"
	ConflictAutoTheirs ConflictResolution = "auto_theirs"
	ConflictAutoOurs   ConflictResolution = "auto_ours"
)

func canonicalStatus(raw string) AgentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "inactive":
		return StatusInactive
	case "initializing":
		return StatusInitializing
	case "active":
		return StatusActive
	case "paused":
		return StatusPaused
	case "error":
		return StatusError
	default:
		return AgentStatus(strings.ToLower(strings.TrimSpace(raw)))
	}
}

func canonicalConflictResolution(raw string) ConflictResolution {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(raw, "-", "_"))) {
	case "", "manual":
		return ConflictManual
	case "auto_theirs", "autotheirs":
		return ConflictAutoTheirs
	case "auto_ours", "autoours":
		return ConflictAutoOurs
	default:
		return ConflictResolution(raw)
	}
}

// ResourceLimits declares per-agent resource ceilings. Advisory only — the
// engine never enforces these against the agent process (spec §9 Open
// Questions).
type ResourceLimits struct {
	MemoryMB             int `yaml:"memory_mb,omitempty"`
	CPUPercent           int `yaml:"cpu_percent,omitempty"`
	OperationTimeoutSecs int `yaml:"operation_timeout_secs,omitempty"`
	MaxConcurrentOps     int `yaml:"max_concurrent_ops,omitempty"`
	MaxDiskMB            int `yaml:"max_disk_mb,omitempty"`
}

// AgentConfig is the per-agent `config` block from spec §3.
type AgentConfig struct {
	Env                map[string]string `yaml:"env,omitempty"`
	StartupCommands    []string          `yaml:"startup_commands,omitempty"`
	Limits             ResourceLimits    `yaml:"limits,omitempty"`
	Shell              string            `yaml:"shell,omitempty"`
	DefaultTimeoutSecs int               `yaml:"default_timeout_secs,omitempty"`
	AutoSync           bool              `yaml:"auto_sync,omitempty"`
	Custom             map[string]any    `yaml:"custom,omitempty"`
}

// Agent is one declared agent record.
type Agent struct {
	ID           string      `yaml:"id"`
	Branch       string      `yaml:"branch,omitempty"`
	WorktreePath string      `yaml:"worktree_path,omitempty"`
	Model        string      `yaml:"model,omitempty"`
	Description  string      `yaml:"description,omitempty"`
	Status       AgentStatus `yaml:"status,omitempty"`
	Config       AgentConfig `yaml:"config,omitempty"`
}

// DefaultBranch returns `agents/<id>` unless Branch is already set.
func (a Agent) DefaultBranch() string {
	if strings.TrimSpace(a.Branch) != "" {
		return a.Branch
	}
	return "agents/" + a.ID
}

// DefaultWorktreePath returns `<workspace-root>/<id>` unless WorktreePath is set.
func (a Agent) DefaultWorktreePath(workspaceRoot string) string {
	if strings.TrimSpace(a.WorktreePath) != "" {
		return a.WorktreePath
	}
	return filepath.Join(workspaceRoot, a.ID)
}

// Hook describes a pre/post sync hook.
type Hook struct {
	Command  string   `yaml:"command"`
	Args     []string `yaml:"args,omitempty"`
	WorkDir  string   `yaml:"work_dir,omitempty"`
	Required bool     `yaml:"required,omitempty"`
}

// SyncPolicy is the `sync` block from spec §3.
type SyncPolicy struct {
	AutoSync            bool               `yaml:"auto_sync"`
	DefaultIntervalSecs int                `yaml:"default_interval_secs"`
	ConflictResolution  ConflictResolution `yaml:"conflict_resolution"`
	ExcludeBranches     []string           `yaml:"exclude_branches,omitempty"`
	PreSyncHooks        []Hook             `yaml:"pre_sync_hooks,omitempty"`
	PostSyncHooks       []Hook             `yaml:"post_sync_hooks,omitempty"`
}

// Settings is the `settings` block from spec §3/§4.4/§5.
type Settings struct {
	MaxCommandLength int      `yaml:"max_command_length"`
	BlockedCommands  []string `yaml:"blocked_commands,omitempty"`
	MaxConcurrentOps int      `yaml:"max_concurrent_ops"`
	HistoryLimit     int      `yaml:"history_limit"`
	ProfilesDir      string   `yaml:"profiles_dir,omitempty"`
}

// Document models .agentctl/config.yaml. Extra preserves unknown top-level
// keys so they round-trip unmodified (spec §4.1 forward-compatibility
// requirement).
type Document struct {
	SchemaVersion string         `yaml:"schema_version"`
	SessionName   string         `yaml:"session_name"`
	Agents        []Agent        `yaml:"agents"`
	Sync          SyncPolicy     `yaml:"sync"`
	Settings      Settings       `yaml:"settings"`
	Extra         map[string]any `yaml:",inline"`
}

// Config is the runtime handle: the loaded Document plus the workspace paths
// it was loaded from.
type Config struct {
	WorkspaceRoot string
	Document      Document
}

// ConfigPath returns the on-disk location of the project document.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.WorkspaceRoot, MetaDir, "config.yaml")
}

// LockPath returns the advisory lock file colocated with the document.
func (c *Config) LockPath() string {
	return filepath.Join(c.WorkspaceRoot, MetaDir, "config.yaml.lock")
}

// LogsDir returns the log directory under the workspace root.
func (c *Config) LogsDir() string {
	return filepath.Join(c.WorkspaceRoot, MetaDir, "logs")
}

// HistoryPath returns the command-history log path.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.WorkspaceRoot, MetaDir, "history.log")
}

// ProfilesDir resolves the configured (or default) layout-profile fallback
// script directory to an absolute path.
func (c *Config) ProfilesDir() string {
	dir := strings.TrimSpace(c.Document.Settings.ProfilesDir)
	if dir == "" {
		dir = "profiles"
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(c.WorkspaceRoot, dir)
}

// AgentByID returns the agent record with the given id, if declared.
func (c *Config) AgentByID(id string) (Agent, bool) {
	for _, a := range c.Document.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}

// AddAgent appends a new agent record and persists it (spec §3: the document
// is "mutated by configuration operations and by agents create/remove").
func (c *Config) AddAgent(agent Agent) error {
	if _, exists := c.AgentByID(agent.ID); exists {
		return errtag.New(errtag.KindConfigSchema, "agent already declared").WithID(agent.ID)
	}
	c.Document.Agents = append(c.Document.Agents, agent)
	return c.Save()
}

// RemoveAgent splices the agent with the given id out of the document and
// persists the change (spec §4.2's remove algorithm's final "persist" step).
func (c *Config) RemoveAgent(id string) error {
	idx := -1
	for i, a := range c.Document.Agents {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errtag.New(errtag.KindConfigSchema, "no such agent").WithID(id)
	}
	c.Document.Agents = append(c.Document.Agents[:idx], c.Document.Agents[idx+1:]...)
	return c.Save()
}

func defaultDocument() Document {
	var doc Document
	_ = yaml.Unmarshal([]byte(defaultDocumentYAML), &doc)
	return doc
}

// Load reads and validates the project document under workspaceRoot.
//
// Failure semantics (spec §4.1): ConfigNotFound if the document is absent,
// ConfigParse if malformed, ConfigSchema if a required field is missing or
// mistyped.
func Load(workspaceRoot string) (*Config, error) {
	c := &Config{WorkspaceRoot: workspaceRoot, Document: defaultDocument()}
	path := c.ConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errtag.New(errtag.KindConfigNotFound, "no config.yaml under "+filepath.Join(workspaceRoot, MetaDir)).WithPath(path)
		}
		return nil, errtag.Wrap(errtag.KindIO, err, "read "+path).WithPath(path)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		line, col := yamlErrorPos(err)
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			return nil, errtag.Wrap(errtag.KindConfigSchema, err, "schema "+path).WithPath(path).WithPos(line, col)
		}
		return nil, errtag.Wrap(errtag.KindConfigParse, err, "parse "+path).WithPath(path).WithPos(line, col)
	}
	doc.normalize()
	c.Document = doc
	if report := c.Validate(); report.HasErrors() {
		return nil, errtag.New(errtag.KindConfigSchema, report.Error()).WithPath(path)
	}
	return c, nil
}

// yamlErrorPos best-effort extracts a line number from a yaml.v3 TypeError or
// generic error message ("yaml: line N: ..."). Column is not exposed by the
// library, so it is always 0.
func yamlErrorPos(err error) (line, col int) {
	msg := err.Error()
	const marker = "line "
	idx := strings.Index(msg, marker)
	if idx < 0 {
		return 0, 0
	}
	rest := msg[idx+len(marker):]
	end := strings.IndexAny(rest, ": ")
	if end < 0 {
		end = len(rest)
	}
	var n int
	if _, scanErr := fmt.Sscanf(rest[:end], "%d", &n); scanErr == nil {
		return n, 0
	}
	return 0, 0
}

func (doc *Document) normalize() {
	if strings.TrimSpace(doc.SchemaVersion) == "" {
		doc.SchemaVersion = schemaVersionCurrent
	}
	if strings.TrimSpace(doc.SessionName) == "" {
		doc.SessionName = "agentctl"
	}
	for i := range doc.Agents {
		doc.Agents[i].Status = canonicalStatus(string(doc.Agents[i].Status))
	}
	doc.Sync.ConflictResolution = canonicalConflictResolution(string(doc.Sync.ConflictResolution))
	if doc.Sync.DefaultIntervalSecs == 0 {
		doc.Sync.DefaultIntervalSecs = 300
	}
	if doc.Settings.MaxCommandLength == 0 {
		doc.Settings.MaxCommandLength = 4096
	}
	if doc.Settings.MaxConcurrentOps == 0 {
		doc.Settings.MaxConcurrentOps = 4
	}
	if doc.Settings.HistoryLimit == 0 {
		doc.Settings.HistoryLimit = 500
	}
	if strings.TrimSpace(doc.Settings.ProfilesDir) == "" {
		doc.Settings.ProfilesDir = "profiles"
	}
}

// Save persists the document, serialized in a human-readable, diff-friendly
// form, guarded by the advisory lock colocated with the document (spec §4.1,
// §5). The lock is held only for the duration of the write.
func (c *Config) Save() error {
	c.Document.normalize()
	if report := c.Validate(); report.HasErrors() {
		return errtag.New(errtag.KindConfigSchema, report.Error())
	}
	if err := os.MkdirAll(filepath.Join(c.WorkspaceRoot, MetaDir), 0o755); err != nil {
		return errtag.Wrap(errtag.KindIO, err, "ensure meta dir")
	}
	lockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	lock := flock.New(c.LockPath())
	locked, err := lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil || !locked {
		return errtag.New(errtag.KindConfigBusy, "configuration is locked by another invocation")
	}
	defer lock.Unlock()

	data, err := yaml.Marshal(c.Document)
	if err != nil {
		return errtag.Wrap(errtag.KindIO, err, "encode config")
	}
	tmp := c.ConfigPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errtag.Wrap(errtag.KindIO, err, "write staged config")
	}
	if err := os.Rename(tmp, c.ConfigPath()); err != nil {
		return errtag.Wrap(errtag.KindIO, err, "persist config")
	}
	return nil
}

// Issue is one validation finding.
type Issue struct {
	Field   string
	Message string
	Warning bool
}

// Report collects Validate findings.
type Report struct {
	Issues []Issue
}

// HasErrors reports whether the report contains any non-warning issue.
func (r Report) HasErrors() bool {
	for _, i := range r.Issues {
		if !i.Warning {
			return true
		}
	}
	return false
}

func (r Report) Error() string {
	var msgs []string
	for _, i := range r.Issues {
		if i.Warning {
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", i.Field, i.Message))
	}
	return strings.Join(msgs, "; ")
}

func (r *Report) add(field, message string) {
	r.Issues = append(r.Issues, Issue{Field: field, Message: message})
}

func (r *Report) warn(field, message string) {
	r.Issues = append(r.Issues, Issue{Field: field, Message: message, Warning: true})
}

// Validate is pure: schema version, agent-id uniqueness/charset, path
// containment, branch legality, non-empty agents, and numeric ranges (spec
// §4.1). The blocked-command list is not checked here.
func (c *Config) Validate() Report {
	var r Report
	doc := c.Document

	if strings.TrimSpace(doc.SchemaVersion) == "" {
		r.add("schema_version", "is required")
	} else if doc.SchemaVersion != schemaVersionCurrent {
		r.warn("schema_version", fmt.Sprintf("unrecognized version %q, expected %q", doc.SchemaVersion, schemaVersionCurrent))
	}

	if strings.TrimSpace(doc.SessionName) == "" {
		r.add("session_name", "is required")
	}

	if len(doc.Agents) == 0 {
		r.warn("agents", "list is empty; session operations require at least one agent")
	}

	seenIDs := map[string]bool{}
	seenBranches := map[string]string{}
	seenPaths := map[string]string{}
	for i, a := range doc.Agents {
		field := fmt.Sprintf("agents[%d]", i)
		if strings.TrimSpace(a.ID) == "" {
			r.add(field+".id", "is required")
			continue
		}
		if !agentIDPattern.MatchString(a.ID) {
			r.add(field+".id", "must match [A-Za-z0-9_-]+")
		}
		if seenIDs[a.ID] {
			r.add(field+".id", fmt.Sprintf("duplicate agent id %q", a.ID))
		}
		seenIDs[a.ID] = true

		branch := a.DefaultBranch()
		if !isLegalBranchName(branch) {
			r.add(field+".branch", fmt.Sprintf("%q is not a legal ref name", branch))
		}
		if owner, ok := seenBranches[branch]; ok {
			r.add(field+".branch", fmt.Sprintf("branch %q already used by agent %q", branch, owner))
		}
		seenBranches[branch] = a.ID

		worktree := a.DefaultWorktreePath(c.WorkspaceRoot)
		if err := validatePathContainment(c.WorkspaceRoot, worktree); err != nil {
			r.add(field+".worktree_path", err.Error())
		}
		if owner, ok := seenPaths[worktree]; ok {
			r.add(field+".worktree_path", fmt.Sprintf("path %q already used by agent %q", worktree, owner))
		}
		seenPaths[worktree] = a.ID

		if a.Config.Limits.CPUPercent < 0 || a.Config.Limits.CPUPercent > 100 {
			r.add(field+".config.limits.cpu_percent", "must be within 0..100")
		}
		if a.Config.Limits.OperationTimeoutSecs < 0 {
			r.add(field+".config.limits.operation_timeout_secs", "must be positive")
		}
		if a.Config.DefaultTimeoutSecs < 0 {
			r.add(field+".config.default_timeout_secs", "must be positive")
		}
	}

	switch doc.Sync.ConflictResolution {
	case ConflictManual, ConflictAutoTheirs, ConflictAutoOurs:
	default:
		r.add("sync.conflict_resolution", fmt.Sprintf("unknown strategy %q", doc.Sync.ConflictResolution))
	}
	if doc.Sync.DefaultIntervalSecs <= 0 {
		r.add("sync.default_interval_secs", "must be positive")
	}
	for i, h := range doc.Sync.PreSyncHooks {
		if strings.TrimSpace(h.Command) == "" {
			r.add(fmt.Sprintf("sync.pre_sync_hooks[%d].command", i), "is required")
		}
	}
	for i, h := range doc.Sync.PostSyncHooks {
		if strings.TrimSpace(h.Command) == "" {
			r.add(fmt.Sprintf("sync.post_sync_hooks[%d].command", i), "is required")
		}
	}

	if doc.Settings.MaxCommandLength <= 0 {
		r.add("settings.max_command_length", "must be positive")
	}
	if doc.Settings.MaxConcurrentOps <= 0 {
		r.add("settings.max_concurrent_ops", "must be positive")
	}
	if doc.Settings.HistoryLimit <= 0 {
		r.add("settings.history_limit", "must be positive")
	}

	return r
}

var branchPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)

func isLegalBranchName(name string) bool {
	if name == "" || strings.Contains(name, "..") || strings.HasSuffix(name, "/") ||
		strings.HasSuffix(name, ".lock") || strings.Contains(name, "//") {
		return false
	}
	return branchPattern.MatchString(name)
}

// validatePathContainment asserts that path, after symlink-free
// canonicalization, is a descendant of root with no parent-directory
// components (spec §4.1, §8 Path containment property).
func validatePathContainment(root, path string) error {
	cleanRoot := filepath.Clean(root)
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		cleanPath = filepath.Join(cleanRoot, cleanPath)
	}
	rel, err := filepath.Rel(cleanRoot, cleanPath)
	if err != nil {
		return fmt.Errorf("cannot relate %q to workspace root: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%q escapes workspace root", path)
	}
	return nil
}

// Get resolves a dot-separated path against the document (e.g.
// "settings.max_concurrent_ops", "agents.0.model").
func (c *Config) Get(path string) (any, error) {
	root, err := toGenericMap(c.Document)
	if err != nil {
		return nil, err
	}
	return getPath(root, splitPath(path))
}

// Set resolves a dot-separated path, assigns value, and re-decodes into the
// typed Document so that load→set→save→load round-trips without semantic
// loss (spec §4.1). Returns the receiver for chaining.
func (c *Config) Set(path string, value any) (*Config, error) {
	root, err := toGenericMap(c.Document)
	if err != nil {
		return nil, err
	}
	if err := setPath(root, splitPath(path), value); err != nil {
		return nil, err
	}
	var doc Document
	data, err := yaml.Marshal(root)
	if err != nil {
		return nil, errtag.Wrap(errtag.KindIO, err, "re-encode config")
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errtag.Wrap(errtag.KindConfigParse, err, "re-decode config")
	}
	doc.normalize()
	c.Document = doc
	return c, nil
}

func splitPath(path string) []string {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func toGenericMap(doc Document) (map[string]any, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errtag.Wrap(errtag.KindIO, err, "encode config")
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errtag.Wrap(errtag.KindConfigParse, err, "decode config")
	}
	return m, nil
}

func getPath(node any, segments []string) (any, error) {
	if len(segments) == 0 {
		return node, nil
	}
	head, rest := segments[0], segments[1:]
	switch v := node.(type) {
	case map[string]any:
		child, ok := v[head]
		if !ok {
			return nil, fmt.Errorf("config: no such key %q", head)
		}
		return getPath(child, rest)
	case []any:
		idx, err := indexOf(head, len(v))
		if err != nil {
			return nil, err
		}
		return getPath(v[idx], rest)
	default:
		return nil, fmt.Errorf("config: cannot descend into scalar at %q", head)
	}
}

func setPath(node any, segments []string, value any) error {
	if len(segments) == 0 {
		return fmt.Errorf("config: empty path")
	}
	head, rest := segments[0], segments[1:]
	m, ok := node.(map[string]any)
	if !ok {
		return fmt.Errorf("config: cannot set %q on non-map node", head)
	}
	if len(rest) == 0 {
		m[head] = value
		return nil
	}
	child, exists := m[head]
	if !exists {
		nextMap := map[string]any{}
		m[head] = nextMap
		child = nextMap
	}
	switch c := child.(type) {
	case map[string]any:
		return setPath(c, rest, value)
	case []any:
		idx, err := indexOf(rest[0], len(c))
		if err != nil {
			return err
		}
		if len(rest) == 1 {
			c[idx] = value
			return nil
		}
		return setPath(c[idx], rest[1:], value)
	default:
		return fmt.Errorf("config: cannot descend into scalar at %q", head)
	}
}

func indexOf(segment string, length int) (int, error) {
	var idx int
	if _, err := fmt.Sscanf(segment, "%d", &idx); err != nil {
		return 0, fmt.Errorf("config: expected array index, got %q", segment)
	}
	if idx < 0 || idx >= length {
		return 0, fmt.Errorf("config: index %d out of range [0,%d)", idx, length)
	}
	return idx, nil
}

// InitWorkspace creates the .agentctl directory structure and default
// config document at workspaceRoot. This is the only operation allowed to
// mutate the filesystem without a prior Load (spec §4.7).
//
// Structure created:
//
//	.agentctl/
//	├── config.yaml
//	├── logs/
//	└── history.log (created lazily by internal/history)
//
// profiles/
//
//	└── (materialized by internal/profiles)
func InitWorkspace(workspaceRoot string, force bool) error {
	metaDir := filepath.Join(workspaceRoot, MetaDir)
	configPath := filepath.Join(metaDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil && !force {
		return errtag.New(errtag.KindPathConflict, "config.yaml already exists").WithPath(configPath).
			WithSuggestion("pass force to overwrite")
	}
	dirs := []string{
		metaDir,
		filepath.Join(metaDir, "logs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errtag.Wrap(errtag.KindIO, err, "create "+dir)
		}
	}
	if _, err := os.Stat(configPath); err != nil || force {
		if err := os.WriteFile(configPath, []byte(defaultDocumentYAML), 0o644); err != nil {
			return errtag.Wrap(errtag.KindIO, err, "write default config")
		}
	}
	return nil
}
