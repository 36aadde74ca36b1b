package decompose

const systemPrompt = `You plan investigations for a team of specialist workers: research, analysis, synthesis and compliance.
You reply with JSON only.`

// decompositionPrompt is the prompt template for request interpretation.
const decompositionPrompt = `Break this investigation request into tasks for specialist workers.

Request:
%s

Return ONLY a JSON object with this exact structure (no other text):
{
  "plan_type": "standard|expedited|comprehensive",
  "research_tasks": [
    {
      "title": "Short unique task title",
      "description": "What to gather and why",
      "type": "literature_review|data_collection|market_research|fact_check",
      "domain": "general|finance|healthcare|technology|legal|energy",
      "complexity": "low|medium|high",
      "priority": "low|normal|high",
      "estimated_seconds": 120,
      "query": "search query",
      "sources": ["preferred source"],
      "depth": "standard|deep"
    }
  ],
  "analysis_tasks": [
    {
      "title": "Short unique task title",
      "description": "What to evaluate",
      "type": "quantitative_analysis|risk_assessment|trend_analysis|comparative_analysis|synthesis|report_drafting|compliance_check|regulatory_review",
      "domain": "general|finance|healthcare|technology|legal|energy",
      "complexity": "low|medium|high",
      "priority": "low|normal|high",
      "estimated_seconds": 180,
      "reads": ["title of a task whose results this task needs"],
      "subject": "what is analyzed",
      "metrics": ["metric"],
      "audience": "who the synthesis is for",
      "jurisdiction": "jurisdiction for compliance tasks"
    }
  ]
}

Guidelines:
- Research tasks gather data and should not depend on each other unless truly necessary
- Every analysis task lists in "reads" the titles of the tasks it needs
- Analysis tasks may read other analysis tasks (a synthesis reads the analyses)
- Keep the plan small: only add tasks that change the answer
- Mark a task priority "high" only if the answer is unusable without it
- Use "expedited" for urgent, narrow requests and "comprehensive" for broad due diligence`
