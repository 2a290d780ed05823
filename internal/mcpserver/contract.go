package mcpserver

// ChangeFormatContract describes the change specs accepted by
// commit_transaction.
const ChangeFormatContract = `# Codex Change Format Contract

A transaction is a JSON list of changes applied in order. Each change is
an object with a "kind" and its "args":

` + "```" + `json
[
  {"kind": "add_version", "args": {"element": "<id>", "expected": 3}},
  {"kind": "element_contents", "args": {"element": "<id>", "version": 3, "language": "en", "path": ["title"], "value": "Hello"}}
]
` + "```" + `

Either every change is applied or none is. Validation failures are
reported per change; nothing is written in that case.

## Kinds

| kind | args |
|---|---|
| create_element | type, parent, definition, language, attach |
| add_version | element, base (0: newest), expected (next version number, optional) |
| element_contents | element, version, language, path, value |
| copy_contents | element, from_version, from_language, to_version, to_language |
| set_state | element, version, state (editing, published, deleted) |
| set_definition | element, version, definition |
| set_link | element, version, name, target (empty removes) |
| set_slugs | element, version, slugs, disambiguate |
| attach_child | element, version, child, position (-1 appends) |
| detach_child | element, version, child |
| set_parent | element, parent (empty: root) |
| add_sub | element, version, language, path, index (-1 appends), contents |
| remove_sub | element, version, language, path, index |
| add_file_meta | file {name, mime_type, size, checksum, element} |

## Rules

1. **Content is edited in the newest version of its language.** Editing an
   older version fails with "newer version exists".
2. **Paths** address nested contents as (sub name, index) pairs followed by
   the field name: ` + "`" + `["sections", "0", "heading"]` + "`" + `.
3. **Slugs** are ` + "`" + `{"url", "language", "default", "deprecated"}` + "`" + `. Every
   language keeps exactly one live default; the first live slug is promoted
   when none is marked.
4. **URL conflicts** with other elements fail validation unless
   ` + "`" + `disambiguate` + "`" + ` is true, in which case a numeric suffix is appended.
5. **Version numbers** only grow. Pass ` + "`" + `expected` + "`" + ` to add_version to
   detect a concurrent editor.
6. A transaction that changes nothing returns success without a
   transaction id.
`
