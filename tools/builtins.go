package tools

func init() {
	MustRegisterTool(
		"web_search",
		"Search the web for pages related to a query and return top results with title, URL, and snippet.",
		func() Tool { return NewWebSearch() },
	)
	MustRegisterTool(
		"url_crawl",
		"Crawl a URL and extract text, links, headings, images, or metadata.",
		func() Tool { return NewURLCrawl() },
	)
	MustRegisterTool(
		"abstract_search",
		"Search PubMed for biomedical literature abstracts matching a query.",
		func() Tool { return NewAbstractSearch() },
	)
	MustRegisterTool(
		"python_exec",
		"Run a Python snippet in a subprocess and return stdout/stderr/exit code.",
		func() Tool { return NewPythonExec() },
	)
	MustRegisterTool(
		"shell_exec",
		"Execute shell commands safely with timeout and working directory support. Some dangerous commands are blocked.",
		func() Tool { return NewShellExec() },
	)
	MustRegisterTool(
		"browser_drive",
		"Drive a headless browser session: navigate, click, type, and read page content.",
		func() Tool { return NewBrowserDrive() },
	)

	MustRegisterBundle("researcher", "Web and literature research tools", []string{
		"web_search",
		"url_crawl",
		"abstract_search",
	})
	MustRegisterBundle("coder", "Code execution tools", []string{
		"python_exec",
		"shell_exec",
	})
	MustRegisterBundle("browser", "Browser automation tools", []string{
		"browser_drive",
	})
	MustRegisterBundle("all", "All available built-in tools", []string{
		"web_search",
		"url_crawl",
		"abstract_search",
		"python_exec",
		"shell_exec",
		"browser_drive",
	})
}
