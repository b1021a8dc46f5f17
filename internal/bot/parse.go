package bot

import (
	"fmt"
	"strconv"
	"strings"

	"trendscout/internal/model"
)

// AddSourceArgs holds the parsed arguments of /addsource.
type AddSourceArgs struct {
	Kind model.SourceKind
	URL  string
	Name string
}

// ParseAddSourceArgs parses arguments for /addsource.
// Format: <feed|api|social> <url> [name...]
func ParseAddSourceArgs(args string) (AddSourceArgs, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return AddSourceArgs{}, fmt.Errorf("usage: /addsource <feed|api|social> <url> [name]")
	}
	kind := model.SourceKind(strings.ToLower(parts[0]))
	if !kind.Valid() {
		return AddSourceArgs{}, fmt.Errorf("invalid kind %q, use: feed, api, social", parts[0])
	}
	return AddSourceArgs{
		Kind: kind,
		URL:  parts[1],
		Name: strings.Join(parts[2:], " "),
	}, nil
}

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}

// ParseIDText extracts an ID and the optional free text after it.
func ParseIDText(args string) (int64, string, error) {
	parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
	id, err := ParseIDArg(parts[0])
	if err != nil {
		return 0, "", err
	}
	if len(parts) < 2 {
		return id, "", nil
	}
	return id, strings.TrimSpace(parts[1]), nil
}

// ParseLimitArg returns the optional positive limit in args, def when args is
// empty. Limits above max are capped.
func ParseLimitArg(args string, def, max int) (int, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive number")
	}
	if n > max {
		n = max
	}
	return n, nil
}

// ParseTopicStatus maps the /topics argument to a status, pending by default.
func ParseTopicStatus(args string) (model.TopicStatus, error) {
	s := model.TopicStatus(strings.ToLower(strings.TrimSpace(args)))
	switch s {
	case "":
		return model.TopicPending, nil
	case model.TopicPending, model.TopicApproved, model.TopicRejected, model.TopicGenerated:
		return s, nil
	}
	return "", fmt.Errorf("invalid status %q, use: pending, approved, rejected, generated", args)
}
