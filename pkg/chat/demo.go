package chat

import (
	"fmt"
	"strings"

	"github.com/jmylchreest/insight/pkg/api"
)

const capabilities = `## What I can help you with:

- **Security Analysis**: find vulnerabilities and security issues
- **Performance Optimization**: identify bottlenecks and improvement opportunities
- **Code Quality**: review complexity, maintainability and best practices
- **Documentation**: check for missing docs and unclear code`

const demoWelcome = `# AI Code Assistant (Demo Mode)

The assistant could not reach the backend, so answers come from demo data.

` + capabilities + `

**Note**: restart the chat to connect to your actual codebase.`

const connectionError = `## Connection Error

Something went wrong while answering your question.

### What happened:
- The connection to the backend may be interrupted
- The analysis service might be temporarily unavailable

### What you can do:

1. **Try again** in a moment
2. **Check your connection**
3. **Ask a different question**

Demo answers remain available in the meantime.`

func welcome(info api.CodebaseInfo) string {
	var b strings.Builder
	switch {
	case info.GitHubRepo != "":
		branch := info.Branch
		if branch == "" {
			branch = "main"
		}
		b.WriteString("# AI Code Assistant Connected!\n\n")
		b.WriteString("Connected to your **GitHub repository**.\n\n")
		fmt.Fprintf(&b, "## Your GitHub Repository:\n- **Repository**: `%s`\n- **Branch**: `%s`\n- **Status**: %s\n- **Context**: %s\n\n",
			info.GitHubRepo, branch, info.Status, info.Context)
	case info.Path != "" && info.Path != ".":
		b.WriteString("# AI Code Assistant Connected!\n\n")
		b.WriteString("Connected to your uploaded codebase.\n\n")
		fmt.Fprintf(&b, "## Your Codebase:\n- **Location**: `%s`\n- **Status**: %s\n- **Context**: %s\n\n",
			info.Path, info.Status, info.Context)
	default:
		b.WriteString("# AI Code Assistant Ready!\n\n")
	}
	b.WriteString(capabilities)
	b.WriteString("\n\nAsk me anything about your code.")
	return b.String()
}

// demoReply picks a canned answer by keyword.
func demoReply(question string, t Target) string {
	q := strings.ToLower(question)
	where := t.describe()
	switch {
	case strings.Contains(q, "security") || strings.Contains(q, "vulnerabilit"):
		return fmt.Sprintf(demoSecurity, where)
	case strings.Contains(q, "performance") || strings.Contains(q, "optimize"):
		return fmt.Sprintf(demoPerformance, where)
	case strings.Contains(q, "quality") || strings.Contains(q, "review") || strings.Contains(q, "complexity"):
		return fmt.Sprintf(demoQuality, where)
	default:
		return fmt.Sprintf(demoDefault, where)
	}
}

const demoSecurity = "## Security Analysis Results\n\n" +
	"Security findings for %s:\n\n" +
	"### Critical/High Issues Found:\n\n" +
	"**Hardcoded Credentials Detected**\n" +
	"- **Risk Level**: **Critical**\n" +
	"- **Impact**: credentials exposed to version control\n\n" +
	"**Input Validation Issues**\n" +
	"- **Risk Level**: **High**\n" +
	"- **Impact**: potential injection attacks\n\n" +
	"### Immediate Action Required:\n\n" +
	"1. **Move secrets to environment variables**\n" +
	"   ```python\n   API_KEY = os.getenv('API_KEY')\n   ```\n" +
	"2. **Validate all user input**\n" +
	"3. **Add security scanning to CI**\n"

const demoPerformance = "## Performance Analysis Complete\n\n" +
	"Optimization opportunities in %s:\n\n" +
	"**Inefficient String Operations**\n" +
	"- **Solution**: build strings with `join()` instead of repeated concatenation\n\n" +
	"```python\nresult = \", \".join(str(item) for item in items)\n```\n\n" +
	"**Unnecessary Object Creation**\n" +
	"- **Solution**: cache or pool heavy objects\n\n" +
	"**I/O Bottlenecks**\n" +
	"- **Solution**: move blocking operations off the hot path\n"

const demoQuality = "## Code Quality Assessment\n\n" +
	"Analysis results for %s:\n\n" +
	"| Agent | Issues Found |\n" +
	"|-------|-------------|\n" +
	"| **Security** | 3 |\n" +
	"| **Performance** | 3 |\n" +
	"| **Complexity** | 5 |\n" +
	"| **Documentation** | 10 |\n\n" +
	"### Priority Issues:\n\n" +
	"- **High complexity functions**: split functions with cyclomatic complexity above 10\n" +
	"- **Missing documentation**: add docstrings to public functions\n" +
	"- **Deep nesting**: prefer guard clauses and early returns\n"

const demoDefault = "## AI Code Assistant Ready!\n\n" +
	"Ask about the analysis results for %s. Four agents contribute findings:\n\n" +
	"- **Security Agent**: credentials, input validation, injection risks\n" +
	"- **Performance Agent**: inefficient operations, memory use, I/O bottlenecks\n" +
	"- **Complexity Agent**: cyclomatic complexity, nesting depth, function length\n" +
	"- **Documentation Agent**: missing docstrings, unclear naming\n\n" +
	"**Popular questions:**\n" +
	"- \"What are the most critical security issues?\"\n" +
	"- \"How can I optimize this slow function?\"\n" +
	"- \"Which files need immediate attention?\"\n"
