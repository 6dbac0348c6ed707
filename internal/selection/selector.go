package selection

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"

	"quizdesk/internal/question"
)

// UncategorizedName is shown in section summaries for questions without a
// section.
const UncategorizedName = "Uncategorized"

// Rule draws Count questions from one section. SectionID may be
// question.UncategorizedSection.
type Rule struct {
	SectionID  string `json:"section_id"`
	Count      int    `json:"questions_count"`
	Difficulty string `json:"difficulty,omitempty"`
}

// Config drives one selection. When Rules is non-empty the flat filter
// fields are ignored.
type Config struct {
	Rules                []Rule   `json:"distribution,omitempty"`
	SectionIDs           []string `json:"section_ids,omitempty"`
	IncludeUncategorized bool     `json:"include_uncategorized"`
	Difficulty           string   `json:"difficulty,omitempty"`
	QuestionsPerUser     int      `json:"questions_per_user"`
}

type SectionCount struct {
	SectionID   string `json:"section_id"`
	SectionName string `json:"section_name"`
	Count       int    `json:"count"`
}

// AssignedQuestion is a per-respondent snapshot of a bank question. ID is
// fresh for every assignment; SourceQuestionID points back at the bank.
type AssignedQuestion struct {
	ID               string            `json:"id"`
	SourceQuestionID string            `json:"source_question_id"`
	Question         question.Question `json:"question"`
}

type Result struct {
	Questions []AssignedQuestion `json:"questions"`
	Sections  []SectionCount     `json:"sections"`
	MaxScore  int                `json:"max_score"`
}

// Shortfall reports one section and difficulty pair the bank cannot fill.
// Requested sums every rule naming the pair.
type Shortfall struct {
	SectionID  string `json:"section_id"`
	Difficulty string `json:"difficulty,omitempty"`
	Requested  int    `json:"requested"`
	Available  int    `json:"available"`
}

// Source supplies uniform integers in [0, n). *rand.Rand satisfies it.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

type Selector struct {
	rnd Source
}

// New returns a selector. A nil source uses the global math/rand/v2 generator,
// which is safe for concurrent use.
func New(src Source) *Selector {
	if src == nil {
		src = globalSource{}
	}
	return &Selector{rnd: src}
}

// Shuffle permutes items in place with Fisher-Yates.
func Shuffle[T any](r Source, items []T) {
	for i := len(items) - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		items[i], items[j] = items[j], items[i]
	}
}

// Order shuffles a fixed question list with the selector's source.
func (s *Selector) Order(questions []question.Question) {
	Shuffle(s.rnd, questions)
}

// Select picks and orders the questions one respondent receives. An empty
// Questions slice is a valid result; callers decide how to report it.
func (s *Selector) Select(bank []question.Question, sections []question.Section, cfg Config) Result {
	var picked []question.Question
	if len(cfg.Rules) > 0 {
		taken := map[string]bool{}
		for _, rule := range orderRules(cfg.Rules) {
			if rule.Count <= 0 {
				continue
			}
			pool := filter(bank, func(q question.Question) bool {
				return !taken[q.ID] && matchesRule(q, rule)
			})
			Shuffle(s.rnd, pool)
			if len(pool) > rule.Count {
				pool = pool[:rule.Count]
			}
			for _, q := range pool {
				taken[q.ID] = true
			}
			picked = append(picked, pool...)
		}
		Shuffle(s.rnd, picked)
	} else {
		picked = filter(bank, flatMatcher(cfg))
		Shuffle(s.rnd, picked)
		if cfg.QuestionsPerUser > 0 && len(picked) > cfg.QuestionsPerUser {
			picked = picked[:cfg.QuestionsPerUser]
		}
	}
	return Assign(picked, sections)
}

// Assign snapshots questions in the given order and tallies the section
// summary from what was actually assigned.
func Assign(questions []question.Question, sections []question.Section) Result {
	names := make(map[string]string, len(sections))
	for _, sec := range sections {
		names[sec.ID] = sec.Name
	}

	res := Result{
		Questions: make([]AssignedQuestion, 0, len(questions)),
		Sections:  []SectionCount{},
	}
	index := map[string]int{}
	for _, q := range questions {
		res.Questions = append(res.Questions, AssignedQuestion{
			ID:               uuid.NewString(),
			SourceQuestionID: q.ID,
			Question:         cloneQuestion(q),
		})
		if q.Points > 0 {
			res.MaxScore += q.Points
		}

		key := q.SectionID
		name := names[key]
		if q.Uncategorized() {
			key = question.UncategorizedSection
			name = UncategorizedName
		} else if name == "" {
			name = key
		}
		if i, ok := index[key]; ok {
			res.Sections[i].Count++
			continue
		}
		index[key] = len(res.Sections)
		res.Sections = append(res.Sections, SectionCount{SectionID: key, SectionName: name, Count: 1})
	}
	return res
}

// CheckSupply reports every rule group, or the flat cap, the bank cannot
// fill. Rules sharing a section and difficulty are summed.
func CheckSupply(bank []question.Question, cfg Config) []Shortfall {
	var out []Shortfall
	if len(cfg.Rules) > 0 {
		for _, g := range supplyGroups(bank, cfg.Rules) {
			if g.available < g.rule.Count {
				out = append(out, Shortfall{
					SectionID:  g.rule.SectionID,
					Difficulty: g.rule.Difficulty,
					Requested:  g.rule.Count,
					Available:  g.available,
				})
			}
		}
		return out
	}
	available := len(filter(bank, flatMatcher(cfg)))
	if cfg.QuestionsPerUser > 0 && available < cfg.QuestionsPerUser {
		out = append(out, Shortfall{Requested: cfg.QuestionsPerUser, Available: available})
	}
	return out
}

// ExpectedCount is the number of questions Select assigns for cfg from
// bank, counting under-filled rules at what the bank can supply.
func ExpectedCount(bank []question.Question, cfg Config) int {
	if len(cfg.Rules) > 0 {
		total := 0
		for _, g := range supplyGroups(bank, cfg.Rules) {
			total += min(g.rule.Count, g.available)
		}
		return total
	}
	n := len(filter(bank, flatMatcher(cfg)))
	if cfg.QuestionsPerUser > 0 {
		n = min(n, cfg.QuestionsPerUser)
	}
	return n
}

// supplyGroups merges rules and sets each group's available count. A group
// without a difficulty only sees what the specific groups of its section
// leave over.
func supplyGroups(bank []question.Question, rules []Rule) []ruleGroup {
	groups := groupRules(rules)
	used := map[string]int{}
	for i := range groups {
		g := &groups[i]
		g.available = len(filter(bank, func(q question.Question) bool { return matchesRule(q, g.rule) }))
		if g.specific() {
			used[g.section] += min(g.rule.Count, g.available)
		}
	}
	for i := range groups {
		if !groups[i].specific() {
			groups[i].available = max(groups[i].available-used[groups[i].section], 0)
		}
	}
	return groups
}

// RuleKey identifies the section and difficulty pair a rule draws from.
func RuleKey(r Rule) string {
	return sectionKey(r.SectionID) + "\x00" + difficultyKey(r.Difficulty)
}

type ruleGroup struct {
	rule      Rule
	section   string
	available int
}

func (g ruleGroup) specific() bool { return difficultyKey(g.rule.Difficulty) != "" }

// groupRules merges rules with the same key, keeping first-seen order.
func groupRules(rules []Rule) []ruleGroup {
	var groups []ruleGroup
	index := map[string]int{}
	for _, r := range rules {
		if r.Count <= 0 {
			continue
		}
		key := RuleKey(r)
		if i, ok := index[key]; ok {
			groups[i].rule.Count += r.Count
			continue
		}
		index[key] = len(groups)
		groups = append(groups, ruleGroup{
			rule:    Rule{SectionID: strings.TrimSpace(r.SectionID), Difficulty: strings.TrimSpace(r.Difficulty), Count: r.Count},
			section: sectionKey(r.SectionID),
		})
	}
	return groups
}

// orderRules puts rules with a difficulty ahead of the ones without, so a
// catch-all rule cannot consume questions a narrower rule needs.
func orderRules(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if difficultyKey(r.Difficulty) != "" {
			out = append(out, r)
		}
	}
	for _, r := range rules {
		if difficultyKey(r.Difficulty) == "" {
			out = append(out, r)
		}
	}
	return out
}

func sectionKey(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return question.UncategorizedSection
	}
	return id
}

func difficultyKey(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	if d == "all" {
		return ""
	}
	return d
}

func matchesRule(q question.Question, r Rule) bool {
	return matchesSection(q, r.SectionID) && matchesDifficulty(q, r.Difficulty)
}

func flatMatcher(cfg Config) func(question.Question) bool {
	ids := map[string]bool{}
	for _, id := range cfg.SectionIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			ids[id] = true
		}
	}
	if cfg.IncludeUncategorized {
		ids[question.UncategorizedSection] = true
	}
	return func(q question.Question) bool {
		if !matchesDifficulty(q, cfg.Difficulty) {
			return false
		}
		if len(ids) == 0 {
			return true
		}
		if q.Uncategorized() {
			return ids[question.UncategorizedSection]
		}
		return ids[q.SectionID]
	}
}

func matchesSection(q question.Question, sectionID string) bool {
	sectionID = strings.TrimSpace(sectionID)
	if sectionID == question.UncategorizedSection || sectionID == "" {
		return q.Uncategorized()
	}
	return q.SectionID == sectionID
}

func matchesDifficulty(q question.Question, difficulty string) bool {
	difficulty = strings.TrimSpace(difficulty)
	if difficulty == "" || strings.EqualFold(difficulty, "all") {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(q.Difficulty), difficulty)
}

func filter(bank []question.Question, keep func(question.Question) bool) []question.Question {
	out := make([]question.Question, 0, len(bank))
	for _, q := range bank {
		if keep(q) {
			out = append(out, q)
		}
	}
	return out
}

func cloneQuestion(q question.Question) question.Question {
	q.Options = append([]string(nil), q.Options...)
	q.CorrectAnswers = append([]string(nil), q.CorrectAnswers...)
	return q
}
