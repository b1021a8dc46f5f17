package seo

const anchorPrompt = `Our blog post is titled: %q.
Suggest short, natural anchor text (2-6 words) for linking to each of the related posts below.
Respond with a JSON object mapping post id to anchor text, for example {"12": "anchor one", "15": "anchor two"}.
Related posts (id: title):
%s`

const refreshPrompt = `Refresh and update this blog post. Keep the same structure and slug. Update statistics, tool names and trends to the current date.
Respond with JSON only: {"content": "full markdown content", "wordCount": number, "metaScore": number from 0 to 100}.
Post title: %s

Current content:
%s`
