// kwcomplete/helpers_tokenizer.go
// Splits suite and resource files into classified lines with typed tokens.
package kwcomplete

import (
	"bytes"
	"strings"
)

type tableKind int

const (
	tableNone tableKind = iota
	tableSettings
	tableVariables
	tableTestCases
	tableKeywords
	tableComments
	tableUnknown
)

// tableFromHeader maps a header cell such as "*** Test Cases ***" to its table.
func tableFromHeader(cell string) tableKind {
	name := strings.ToLower(strings.Join(strings.Fields(strings.Trim(cell, "* \t")), " "))
	switch name {
	case "setting", "settings", "setting table", "settings table", "metadata":
		return tableSettings
	case "variable", "variables", "variable table", "variables table":
		return tableVariables
	case "test case", "test cases", "testcase", "testcases", "test case table", "task", "tasks":
		return tableTestCases
	case "keyword", "keywords", "user keyword", "user keywords", "keyword table":
		return tableKeywords
	case "comment", "comments":
		return tableComments
	default:
		return tableUnknown
	}
}

type rawCell struct {
	value  string
	offset int // Relative to the line start.
}

// splitCells splits one physical line into cells. Separators are a tab, two or more
// spaces, or " | " in pipe-separated format. Everything from a cell starting with '#' is dropped.
func splitCells(text string) (cells []rawCell, indented bool) {
	if text == "|" || strings.HasPrefix(text, "| ") || strings.HasPrefix(text, "|\t") {
		cells, indented = splitPipeCells(text)
	} else {
		indented = len(text) > 0 && (text[0] == ' ' || text[0] == '\t')
		i := 0
		for i < len(text) {
			for i < len(text) && (text[i] == ' ' || text[i] == '\t') {
				i++
			}
			if i >= len(text) {
				break
			}
			j := i
			for j < len(text) {
				c := text[j]
				if c == '\t' {
					break
				}
				if c == ' ' && (j+1 == len(text) || text[j+1] == ' ' || text[j+1] == '\t') {
					break
				}
				j++
			}
			cells = append(cells, rawCell{value: text[i:j], offset: i})
			i = j
		}
	}
	for k, c := range cells {
		if strings.HasPrefix(c.value, "#") {
			return cells[:k], indented
		}
	}
	return cells, indented
}

func splitPipeCells(text string) (cells []rawCell, indented bool) {
	pos := 1
	first := true
	for pos < len(text) {
		idx := strings.Index(text[pos:], " | ")
		end := len(text)
		if idx >= 0 {
			end = pos + idx
		}
		seg := text[pos:end]
		lead := len(seg) - len(strings.TrimLeft(seg, " \t"))
		val := strings.TrimSpace(seg)
		if idx < 0 {
			if val == "|" {
				val = ""
			} else if strings.HasSuffix(val, " |") || strings.HasSuffix(val, "\t|") {
				val = strings.TrimSpace(val[:len(val)-1])
			}
		}
		if first {
			indented = val == ""
			first = false
		}
		if val != "" {
			cells = append(cells, rawCell{value: val, offset: pos + lead})
		}
		if idx < 0 {
			break
		}
		pos = end + 3
	}
	return cells, indented
}

type statementKind int

const (
	stmtNone statementKind = iota
	stmtSetting
	stmtVariable
	stmtBody
)

// ParseLines tokenizes content into classified lines. file becomes the identity of every
// token. Continuation lines ("...") are classified together with the statement they extend.
func ParseLines(file string, content []byte) []Line {
	var lines []Line
	table := tableNone

	// Each entry points at a token that belongs to the statement being collected.
	var stmt []tokenRef
	kind := stmtNone
	flush := func() {
		if kind != stmtNone && len(stmt) > 0 {
			classifyStatement(kind, lines, stmt)
		}
		stmt = stmt[:0]
		kind = stmtNone
	}

	offset := 0
	for number := 0; ; number++ {
		end := bytes.IndexByte(content[offset:], '\n')
		last := end < 0
		raw := content[offset:]
		if !last {
			raw = content[offset : offset+end]
		}
		text := strings.TrimRight(string(raw), "\r")
		cells, indented := splitCells(text)

		line := Line{Type: LineIgnored, File: file, Number: number, Offset: offset}
		for _, c := range cells {
			line.Tokens = append(line.Tokens, Token{
				Value:  c.value,
				Type:   ArgOther,
				File:   file,
				Line:   number,
				Offset: offset + c.offset,
			})
		}
		idx := len(lines)
		lines = append(lines, line)

		switch {
		case len(cells) > 0 && !indented && strings.HasPrefix(cells[0].value, "*"):
			flush()
			table = tableFromHeader(cells[0].value)
			lines[idx].Type = LineTableHeader
		case len(cells) == 0:
			if strings.HasPrefix(strings.TrimSpace(text), "#") {
				lines[idx].Type = LineComment
			}
		case table == tableComments:
			lines[idx].Type = LineComment
		case table == tableNone || table == tableUnknown:
			lines[idx].Type = LineIgnored
		case cells[0].value == "...":
			lines[idx].Type = LineContinuation
			for t := 1; t < len(cells); t++ {
				stmt = append(stmt, tokenRef{line: idx, token: t})
			}
		default:
			flush()
			switch table {
			case tableSettings:
				lines[idx].Type = LineSetting
				kind = stmtSetting
				stmt = appendRefs(stmt, idx, 0, len(cells))
			case tableVariables:
				lines[idx].Type = LineVariable
				kind = stmtVariable
				stmt = appendRefs(stmt, idx, 0, len(cells))
			case tableTestCases, tableKeywords:
				kind = stmtBody
				if indented {
					lines[idx].Type = bodyLineType(table)
					stmt = appendRefs(stmt, idx, 0, len(cells))
				} else {
					lines[idx].Type = beginLineType(table)
					lines[idx].Tokens[0].Type = newNameType(table)
					stmt = appendRefs(stmt, idx, 1, len(cells))
				}
			}
		}

		if last {
			break
		}
		offset += end + 1
	}
	flush()
	return lines
}

type tokenRef struct {
	line  int
	token int
}

func appendRefs(refs []tokenRef, line, from, to int) []tokenRef {
	for t := from; t < to; t++ {
		refs = append(refs, tokenRef{line: line, token: t})
	}
	return refs
}

func beginLineType(t tableKind) LineType {
	if t == tableKeywords {
		return LineKeywordBegin
	}
	return LineTestCaseBegin
}

func bodyLineType(t tableKind) LineType {
	if t == tableKeywords {
		return LineKeyword
	}
	return LineTestCase
}

func newNameType(t tableKind) ArgumentType {
	if t == tableKeywords {
		return ArgNewKeyword
	}
	return ArgNewTestCase
}

// cellSeq is the logical cell list of one statement, spanning continuation lines.
type cellSeq struct {
	lines []Line
	refs  []tokenRef
}

func (s cellSeq) len() int { return len(s.refs) }

func (s cellSeq) value(i int) string {
	r := s.refs[i]
	return s.lines[r.line].Tokens[r.token].Value
}

func (s cellSeq) set(i int, t ArgumentType) {
	r := s.refs[i]
	s.lines[r.line].Tokens[r.token].Type = t
}

func (s cellSeq) from(i int) cellSeq {
	if i > len(s.refs) {
		i = len(s.refs)
	}
	return cellSeq{lines: s.lines, refs: s.refs[i:]}
}

func (s cellSeq) until(i int) cellSeq {
	if i > len(s.refs) {
		i = len(s.refs)
	}
	return cellSeq{lines: s.lines, refs: s.refs[:i]}
}

func classifyStatement(kind statementKind, lines []Line, refs []tokenRef) {
	seq := cellSeq{lines: lines, refs: refs}
	switch kind {
	case stmtSetting:
		classifySetting(seq)
	case stmtVariable:
		seq.set(0, ArgVariable)
	case stmtBody:
		classifyBody(seq)
	}
}

// normalizeName lower-cases and strips spaces and underscores, the way setting and
// library keyword names are compared.
func normalizeName(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "")
	return strings.ReplaceAll(s, "_", "")
}

func classifySetting(seq cellSeq) {
	seq.set(0, ArgSettingKey)
	key := strings.TrimSuffix(normalizeName(seq.value(0)), ":")
	switch key {
	case "resource", "library", "variables":
		if seq.len() > 1 {
			seq.set(1, ArgSettingFile)
			for i := 2; i < seq.len(); i++ {
				seq.set(i, ArgSettingFileArg)
			}
		}
	case "suitesetup", "suiteteardown", "testsetup", "testteardown", "testtemplate",
		"tasksetup", "taskteardown", "tasktemplate",
		"suiteprecondition", "suitepostcondition", "testprecondition", "testpostcondition":
		if seq.len() > 1 {
			classifyCall(seq.from(1), ArgKeywordCall)
		}
	default:
		for i := 1; i < seq.len(); i++ {
			seq.set(i, ArgSettingValue)
		}
	}
}

func isVariableRef(s string) bool {
	if len(s) < 4 || !strings.HasSuffix(s, "}") {
		return false
	}
	switch s[:2] {
	case "${", "@{", "&{", "%{":
		return strings.Count(s, "{") == 1
	}
	return false
}

func isAssignment(s string) bool {
	s = strings.TrimSpace(strings.TrimSuffix(s, "="))
	return isVariableRef(s)
}

func classifyBody(seq cellSeq) {
	i := 0
	for i < seq.len() && isAssignment(seq.value(i)) {
		seq.set(i, ArgVariable)
		i++
	}
	if i >= seq.len() {
		return
	}
	first := seq.value(i)
	if strings.HasPrefix(first, "[") && strings.HasSuffix(first, "]") {
		seq.set(i, ArgSettingKey)
		switch normalizeName(first) {
		case "[setup]", "[teardown]", "[template]", "[precondition]", "[postcondition]":
			if i+1 < seq.len() {
				classifyCall(seq.from(i+1), ArgKeywordCall)
			}
		default:
			for k := i + 1; k < seq.len(); k++ {
				seq.set(k, ArgSettingValue)
			}
		}
		return
	}
	switch first {
	case "IF":
		classifyInlineIf(seq.from(i))
	case "FOR", "END", "WHILE", "TRY", "EXCEPT", "FINALLY", "ELSE", "ELSE IF", "BREAK", "CONTINUE", "RETURN", ":FOR":
		// Control structure headers carry no calls; their bodies are separate lines.
	default:
		classifyCall(seq.from(i), ArgKeywordCall)
	}
}

// classifyInlineIf handles "IF  cond  Kw  args  ELSE IF  cond  Kw  ELSE  Kw". A block IF
// (condition only) has no call.
func classifyInlineIf(seq cellSeq) {
	i := 0
	for i < seq.len() {
		marker := seq.value(i)
		i++
		if marker == "IF" || marker == "ELSE IF" {
			i++ // condition
		}
		end := i
		for end < seq.len() && seq.value(end) != "ELSE" && seq.value(end) != "ELSE IF" {
			end++
		}
		if i < end {
			classifyCall(seq.from(i).until(end-i), ArgKeywordCall)
		}
		i = end
	}
}

// classifyCall marks seq[0] as a call of the given type and walks run-keyword style
// arguments that name further keywords.
func classifyCall(seq cellSeq, callType ArgumentType) {
	if seq.len() == 0 {
		return
	}
	name := seq.value(0)
	if isVariableRef(name) {
		seq.set(0, ArgVariable)
		return
	}
	seq.set(0, callType)
	args := seq.from(1)

	switch strings.TrimPrefix(normalizeName(name), "builtin.") {
	case "runkeyword", "runkeywordandignoreerror", "runkeywordandreturnstatus",
		"runkeywordandcontinueonfailure", "runkeywordandreturn", "runkeywordandwarnonfailure":
		classifyCall(args, ArgKeywordCallDynamic)
	case "runkeywordandexpecterror", "repeatkeyword", "runkeywordandreturnif":
		if args.len() > 1 {
			classifyCall(args.from(1), ArgKeywordCallDynamic)
		}
	case "waituntilkeywordsucceeds":
		if args.len() > 2 {
			classifyCall(args.from(2), ArgKeywordCallDynamic)
		}
	case "runkeywordif", "runkeywordunless":
		classifyConditionalRun(args)
	case "runkeywords":
		classifyRunKeywords(args)
	}
}

// classifyConditionalRun handles "cond  Kw  args  ELSE IF  cond  Kw  ELSE  Kw".
func classifyConditionalRun(seq cellSeq) {
	i := 1 // skip the first condition
	for i < seq.len() {
		end := i
		for end < seq.len() && seq.value(end) != "ELSE" && seq.value(end) != "ELSE IF" {
			end++
		}
		if i < end {
			classifyCall(seq.from(i).until(end-i), ArgKeywordCallDynamic)
		}
		if end >= seq.len() {
			return
		}
		if seq.value(end) == "ELSE IF" {
			i = end + 2
		} else {
			i = end + 1
		}
	}
}

// classifyRunKeywords handles both "Run Keywords  A  B  C" and "Run Keywords  A  x  AND  B  y".
func classifyRunKeywords(seq cellSeq) {
	hasAnd := false
	for i := 0; i < seq.len(); i++ {
		if seq.value(i) == "AND" {
			hasAnd = true
			break
		}
	}
	if !hasAnd {
		for i := 0; i < seq.len(); i++ {
			if isVariableRef(seq.value(i)) {
				seq.set(i, ArgVariable)
				continue
			}
			seq.set(i, ArgKeywordCallDynamic)
		}
		return
	}
	start := 0
	for i := 0; i <= seq.len(); i++ {
		if i == seq.len() || seq.value(i) == "AND" {
			if start < i {
				classifyCall(seq.from(start).until(i-start), ArgKeywordCallDynamic)
			}
			start = i + 1
		}
	}
}
