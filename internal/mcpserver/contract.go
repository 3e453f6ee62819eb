package mcpserver

// RecordFormatContract is the canonical description of the durable
// record format, exposed as a tool and a resource so LLM clients can
// learn the structure before writing items.
const RecordFormatContract = `# Knowledge Base Record Format

Every item is stored as one Markdown file with a YAML metadata block
between ` + "`---`" + ` fences, followed by the free-form body.

## Layout on disk

    {base}/{type}/{type}-{id}.md

where base is "tasks" (issues, plans) or "documents" (docs, knowledge,
sessions, dailies, custom types).

## Metadata block

    ---
    type: issues
    id: "42"
    title: Fix login redirect
    description: Session cookie is dropped on redirect
    priority: high          # high | medium | low
    status: Open            # Open | In Progress | Review | On Hold |
                            # Completed | Closed | Canceled
    tags: [auth, bug]
    related: [plans-3, docs-12]
    start_date: "2025-07-30"   # optional, YYYY-MM-DD
    end_date: "2025-08-15"     # optional, YYYY-MM-DD
    created_at: 2025-07-30T10:00:00Z
    updated_at: 2025-07-30T10:00:00Z
    ---
    The body follows the closing fence verbatim. Markdown, Unicode, and
    blank lines are all preserved exactly.

## Identity

- issues, plans, docs, knowledge, custom types: sequential numeric ids
  allocated by the engine. Never pick your own.
- dailies: the id is the calendar date (one per day), e.g. 2025-07-31.
- sessions: the id is a millisecond timestamp that sorts by time,
  e.g. 2025-07-31-14.30.00.000. An explicit id is accepted when
  importing historical sessions.

## Rules

- title is required. content is required for sequentially-keyed types.
- related entries are "type-id" references to other items; an item can
  never reference itself.
- Tags are trimmed and de-duplicated preserving first-seen order.
- The files are the source of truth. The search index can always be
  rebuilt from them with rebuild_index.
`
