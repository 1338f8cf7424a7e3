package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/deepmedical/core/graph"
	"github.com/deepmedical/core/registry"
	"github.com/deepmedical/core/types"
)

// Finish is the terminal sentinel a coordinator/planner/supervisor node
// writes to the Next field to end a run.
const Finish = "FINISH"

const (
	keyRoster               = "roster"
	keyDeepThinking         = "deepThinking"
	keySearchBeforePlanning = "searchBeforePlanning"
	keyMessages             = "messages"
	keyNext                 = "next"
	keyPlan                 = "plan"
)

// Init seeds a freshly created graph.State with the Workflow State fields
// spec.md §3 names, appending the user's turn as the first message.
func Init(s *graph.State, roster []registry.Worker, deepThinking, searchBeforePlanning bool, userInput string) {
	s.EnsureData()
	s.Data[keyRoster] = roster
	s.Data[keyDeepThinking] = deepThinking
	s.Data[keySearchBeforePlanning] = searchBeforePlanning
	AppendMessage(s, types.Message{Role: types.RoleUser, Content: userInput})
}

func Roster(s *graph.State) []registry.Worker {
	s.EnsureData()
	roster, _ := s.Data[keyRoster].([]registry.Worker)
	return roster
}

func DeepThinking(s *graph.State) bool {
	s.EnsureData()
	v, _ := s.Data[keyDeepThinking].(bool)
	return v
}

func SearchBeforePlanning(s *graph.State) bool {
	s.EnsureData()
	v, _ := s.Data[keySearchBeforePlanning].(bool)
	return v
}

// Messages returns the accumulated message list: the user's turn plus
// every worker-produced message so far, in the order they were added.
func Messages(s *graph.State) []types.Message {
	s.EnsureData()
	msgs, _ := s.Data[keyMessages].([]types.Message)
	return msgs
}

func AppendMessage(s *graph.State, msg types.Message) {
	s.EnsureData()
	msgs, _ := s.Data[keyMessages].([]types.Message)
	s.Data[keyMessages] = append(msgs, msg)
}

// Next returns the scalar routing field the most recently executed node
// wrote, and SetNext writes it. A Finish value ends the run.
func Next(s *graph.State) string {
	s.EnsureData()
	next, _ := s.Data[keyNext].(string)
	return next
}

func SetNext(s *graph.State, next string) {
	s.EnsureData()
	s.Data[keyNext] = next
}

// PlanOf returns the most recent full plan the planner produced, or nil
// if no plan has been recorded yet.
func PlanOf(s *graph.State) *Plan {
	s.EnsureData()
	p, _ := s.Data[keyPlan].(*Plan)
	return p
}

func SetPlan(s *graph.State, p *Plan) {
	s.EnsureData()
	s.Data[keyPlan] = p
}

// PlanText renders the recorded plan as the free-form text the Prompt
// Binder substitutes into downstream worker templates.
func PlanText(s *graph.State) string {
	p := PlanOf(s)
	if p == nil {
		return ""
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprintf("%+v", p)
	}
	return string(raw)
}

// Snapshot is the single terminal record persisted to the Session Store
// when a run ends, per spec.md §3's "persisted on termination" rule.
type Snapshot struct {
	Roster               []registry.Worker `json:"roster"`
	DeepThinking         bool              `json:"deepThinking"`
	SearchBeforePlanning bool              `json:"searchBeforePlanning"`
	Plan                 *Plan             `json:"plan,omitempty"`
	Next                 string            `json:"next,omitempty"`
}

func SnapshotOf(s *graph.State) Snapshot {
	return Snapshot{
		Roster:               Roster(s),
		DeepThinking:         DeepThinking(s),
		SearchBeforePlanning: SearchBeforePlanning(s),
		Plan:                 PlanOf(s),
		Next:                 Next(s),
	}
}

func (snap Snapshot) MarshalState() (json.RawMessage, error) {
	return json.Marshal(snap)
}
