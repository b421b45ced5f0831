package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Agent is one member of a team, as authored by the spawned lead agent in
// the team config.json (camelCase on disk — the agent CLI's format).
type Agent struct {
	AgentID       string          `json:"agentId"`
	Name          string          `json:"name"`
	AgentType     string          `json:"agentType"`
	Model         string          `json:"model"`
	JoinedAt      int64           `json:"joinedAt"`
	TmuxPaneID    *string         `json:"tmuxPaneId"`
	Cwd           string          `json:"cwd"`
	Subscriptions json.RawMessage `json:"subscriptions,omitempty"`
}

// Team groups the agents participating in one phase.
type Team struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	CreatedAt     int64   `json:"createdAt"`
	LeadAgentID   string  `json:"leadAgentId"`
	LeadSessionID string  `json:"leadSessionId"`
	Members       []Agent `json:"members"`
}

// TaskStatus is the lifecycle state of an agent task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Task is one agent task file under ~/.claude/tasks/<team-dir>/.
type Task struct {
	ID          string          `json:"id"`
	Subject     string          `json:"subject"`
	Description string          `json:"description"`
	ActiveForm  *string         `json:"activeForm,omitempty"`
	Status      TaskStatus      `json:"status"`
	Owner       *string         `json:"owner"`
	Blocks      []string        `json:"blocks"`
	BlockedBy   []string        `json:"blockedBy"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// LoadTeamConfig reads teams_dir/<name>/config.json.
func LoadTeamConfig(teamsDir, name string) (*Team, error) {
	path := filepath.Join(teamsDir, name, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read team config %s: %w", path, err)
	}
	var team Team
	if err := json.Unmarshal(data, &team); err != nil {
		return nil, fmt.Errorf("parse team config %s: %w", path, err)
	}
	return &team, nil
}

// ListTeamNames lists directory names under teamsDir that hold a config.json.
func ListTeamNames(teamsDir string) ([]string, error) {
	entries, err := os.ReadDir(teamsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read teams dir %s: %w", teamsDir, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(teamsDir, entry.Name(), "config.json")); err == nil {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// LoadTaskFiles reads every *.json task file in a directory. Unparseable
// files are skipped; the caller logs them.
func LoadTaskFiles(dir string) ([]Task, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("read task dir %s: %w", dir, err)}
	}

	var tasks []Task
	var problems []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			problems = append(problems, fmt.Errorf("read task %s: %w", path, err))
			continue
		}
		var task Task
		if err := json.Unmarshal(data, &task); err != nil {
			problems = append(problems, fmt.Errorf("parse task %s: %w", path, err))
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, problems
}
