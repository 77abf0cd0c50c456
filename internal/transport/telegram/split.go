package telegram

import "strings"

// Telegram rejects messages over 4096 characters.
const textLimit = 4000

// splitText cuts s into chunks of at most limit runes. A cut prefers the
// blank line between digest entries, then any newline, then a space.
// Markdown cuts never leave a *, _ or ` entity open and HTML cuts never
// land inside a tag.
func splitText(s string, limit int, mode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	var out []string
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			end = cutPoint(rs, start, end, limit/3)
			switch {
			case strings.EqualFold(mode, "markdown"), strings.EqualFold(mode, "markdownv2"):
				end = balanceMarkdown(rs, start, end)
			case strings.EqualFold(mode, "html"):
				end = outsideTag(rs, start, end)
			}
		}
		if chunk := strings.TrimRight(string(rs[start:end]), "\n "); chunk != "" {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && (rs[start] == '\n' || rs[start] == ' ') {
			start++
		}
	}
	return out
}

// cutPoint returns the index just past the best separator in
// rs[start+minLen:end], or end when there is none.
func cutPoint(rs []rune, start, end, minLen int) int {
	lo := start + max(minLen, 1)
	for i := end - 1; i >= lo; i-- {
		if rs[i] == '\n' && rs[i-1] == '\n' {
			return i + 1
		}
	}
	for _, sep := range []rune{'\n', ' '} {
		for i := end - 1; i >= lo; i-- {
			if rs[i] == sep {
				return i + 1
			}
		}
	}
	return end
}

func balanceMarkdown(rs []rune, start, end int) int {
	for _, m := range []rune{'`', '*', '_'} {
		last, n := -1, 0
		for i := start; i < end; i++ {
			if rs[i] == m {
				last = i
				n++
			}
		}
		if n%2 == 1 && last > start {
			end = last
		}
	}
	return end
}

func outsideTag(rs []rune, start, end int) int {
	lastOpen, lastClose := -1, -1
	for i := start; i < end; i++ {
		switch rs[i] {
		case '<':
			lastOpen = i
		case '>':
			lastClose = i
		}
	}
	if lastOpen > lastClose && lastOpen > start+1 {
		return lastOpen
	}
	return end
}
