package registry

// RegisterBuiltins installs the default DeepMedical team roster. Mirrors
// original_source's TEAM_MEMBER_CONFIGRATIONS plus the coordinator/
// planner/supervisor triad it never listed there (those three are not
// "team members" in the source either — they are fixed graph nodes).
func RegisterBuiltins() {
	MustRegister(Entry{
		Name:        Coordinator,
		Description: "Front door. Decides whether a turn needs the full team or a direct reply.",
		LLMSummary:  "Coordinator, handles greetings and small talk directly, hands off real work to the planner.",
		Optional:    false,
		DefaultTier: ClassBasic,
	})
	MustRegister(Entry{
		Name:        Planner,
		Description: "Breaks a medical-information request into a stepwise plan for the team.",
		LLMSummary:  "Planner, turns the user's request into an ordered set of steps for team members.",
		Optional:    false,
		DefaultTier: ClassBasic,
	})
	MustRegister(Entry{
		Name:        Supervisor,
		Description: "Dispatches each plan step to the right team member and decides when the run is done.",
		LLMSummary:  "Supervisor, routes work between team members and finishes the run.",
		Optional:    false,
		DefaultTier: ClassBasic,
	})
	MustRegister(Entry{
		Name:        Researcher,
		Description: "Gathers medical literature and web sources relevant to the plan step.",
		LLMSummary:  "Researcher, searches the web and medical abstracts for supporting evidence.",
		Optional:    true,
		DefaultTier: ClassBasic,
		Tools:       []string{"web_search", "url_crawl", "abstract_search"},
	})
	MustRegister(Entry{
		Name:        Coder,
		Description: "Runs small scripts to compute, transform, or verify numeric claims.",
		LLMSummary:  "Coder, executes short Python or shell snippets to check or compute results.",
		Optional:    true,
		DefaultTier: ClassBasic,
		Tools:       []string{"python_exec", "shell_exec"},
	})
	MustRegister(Entry{
		Name:        Browser,
		Description: "Drives a headless browser for sources that resist scraping or search indexing.",
		LLMSummary:  "Browser operator, navigates pages and extracts content that search cannot reach.",
		Optional:    true,
		DefaultTier: ClassVision,
		Tools:       []string{"browser_drive"},
	})
	MustRegister(Entry{
		Name:        Reporter,
		Description: "Synthesizes every team contribution into the final answer shown to the user.",
		LLMSummary:  "Reporter, writes the final, user-facing answer from the team's findings.",
		Optional:    false,
		DefaultTier: ClassBasic,
	})
	MustRegister(Entry{
		Name:        Translator,
		Description: "Translates a non-English turn to English before planning, and back on the way out.",
		LLMSummary:  "Translator, bridges the user's language and the team's working language.",
		Optional:    true,
		DefaultTier: ClassBasic,
	})
}
