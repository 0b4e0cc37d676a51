package querytree

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	eventDataPrefix = "event_data."
	unknownField    = "Unknown Field"
)

// fieldLabels maps well-known field paths to human labels. Both the bare form
// and the event_data. namespaced form are listed.
var fieldLabels = map[string]string{
	"event_data.ScriptBlockText":     "Script Block Text",
	"event_data.Image":               "Image Path",
	"event_data.CommandLine":         "Command Line",
	"event_data.ParentImage":         "Parent Image",
	"event_data.ProcessId":           "Process ID",
	"event_data.User":                "User",
	"event_data.LogonId":             "Logon ID",
	"event_data.TargetObject":        "Target Object",
	"event_data.Hashes":              "File Hashes",
	"event_data.Signature":           "Digital Signature",
	"event_data.DestinationHostname": "Destination Hostname",
	"event_data.PipeName":            "Pipe Name",
	"event_data.ProcessGuid":         "Process GUID",
	"event_data.ParentProcessGuid":   "Parent Process GUID",
	"event_data.IntegrityLevel":      "Integrity Level",
	"event_data.TokenElevation":      "Token Elevation",
	"event_data.WorkingDirectory":    "Working Directory",
	"event_data.CurrentDirectory":    "Current Directory",
	"event_data.ImageLoaded":         "Image Loaded",
	"event_data.ContextInfo":         "Context Info",
	"event_data.Payload":             "Payload",
	"event_data.RuleName":            "Rule Name",
	"event_data.Details":             "Details",
	"event_data.EventType":           "Event Type",
	"event_data.OriginalFileName":    "Original File Name",
	"event_data.SubjectUserSid":      "Subject User SID",
	"event_data.LogonType":           "Logon Type",
	"event_data.LogonProcessName":    "Logon Process Name",
	"event_data.KeyLength":           "Key Length",
	"event_data.TargetUserName":      "Target User Name",
	"event_data.IpAddress":           "IP Address",
	"event_data.ImagePath":           "Image Path",
	"event_data.ServiceName":         "Service Name",
	"event_data.EnabledFieldsFlags":  "Enabled Fields Flags",

	"ScriptBlockText":     "Script Block Text",
	"Image":               "Image Path",
	"CommandLine":         "Command Line",
	"ParentImage":         "Parent Image",
	"ProcessId":           "Process ID",
	"User":                "User",
	"LogonId":             "Logon ID",
	"TargetObject":        "Target Object",
	"Hashes":              "File Hashes",
	"Signature":           "Digital Signature",
	"DestinationHostname": "Destination Hostname",
	"PipeName":            "Pipe Name",
	"SubjectUserSid":      "Subject User SID",
	"LogonType":           "Logon Type",
	"LogonProcessName":    "Logon Process Name",
	"KeyLength":           "Key Length",
	"TargetUserName":      "Target User Name",
	"IpAddress":           "IP Address",
	"EventID":             "Event ID",
	"event_id":            "Event ID",
	"source_name":         "Provider Name",

	// IIS W3C log fields. cs-method is left to the hyphen heuristic.
	"event_data.date":            "Date",
	"event_data.time":            "Time",
	"event_data.c-ip":            "Client IP",
	"event_data.cs-username":     "Client Username",
	"event_data.s-sitename":      "Site Name",
	"event_data.s-computername":  "Server Name",
	"event_data.s-ip":            "Server IP",
	"event_data.s-port":          "Server Port",
	"event_data.cs-uri-stem":     "URI Path",
	"event_data.cs-uri-query":    "Query String",
	"event_data.sc-status":       "HTTP Status",
	"event_data.sc-substatus":    "HTTP Substatus",
	"event_data.sc-win32-status": "Win32 Status",
	"event_data.sc-bytes":        "Bytes Sent",
	"event_data.cs-bytes":        "Bytes Received",
	"event_data.time-taken":      "Time Taken (ms)",
	"event_data.cs-version":      "HTTP Version",
	"event_data.cs-host":         "Host Header",
	"event_data.csUser-Agent":    "User Agent",
	"event_data.csCookie":        "Cookie",
	"event_data.csReferer":       "Referer",
	"event_data.cs-referer":      "Referer",
}

// ResolveFieldDisplay returns the human label for a field path. An explicit
// label from the conversion service wins, then the static table, then
// HumanizeField.
func ResolveFieldDisplay(field, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if field == "" {
		return unknownField
	}
	if label, ok := fieldLabels[field]; ok {
		return label
	}
	return HumanizeField(field)
}

// HumanizeField derives a label from a field path. The event_data. prefix is
// stripped first. Hyphenated names are title-cased per segment; anything
// else has underscores turned into spaces and a space inserted before each
// internal uppercase letter.
func HumanizeField(field string) string {
	name := strings.TrimPrefix(field, eventDataPrefix)

	if strings.Contains(name, "-") {
		parts := strings.Split(name, "-")
		for i, part := range parts {
			parts[i] = upperFirst(part)
		}
		return strings.Join(parts, " ")
	}

	name = strings.ReplaceAll(name, "_", " ")

	var b strings.Builder
	b.Grow(len(name) + 8)
	var prev rune
	for i, r := range name {
		if i > 0 && isASCIIUpper(r) && prev != ' ' {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
		prev = r
	}
	return strings.TrimSpace(b.String())
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func isASCIIUpper(r rune) bool {
	return r >= 'A' && r <= 'Z'
}
