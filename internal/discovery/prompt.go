package discovery

const brainstormPrompt = `You are the content strategist for Inbox0, an AI assistant that manages email and WhatsApp for executives.
List 15-20 emerging search keywords or phrases that busy professionals and executives are likely to search for, related to email productivity, inbox management, email automation, time management and business communication.
Respond with JSON only: {"keywords": ["keyword one", "keyword two"]}.`

const scorePrompt = `Rate each keyword's relevance to Inbox0, an AI email and WhatsApp management app for executives, from 0.0 (irrelevant) to 1.0 (highly relevant).
Respond with a JSON object mapping each keyword to its score, for example {"email productivity": 0.95, "crypto": 0.1}.`
