package review

import (
	"encoding/xml"
	"regexp"
	"strconv"
	"strings"

	"github.com/aschepis/backscratcher/review/llm"
	"github.com/tidwall/gjson"
)

// StructureType selects how a text response is post-processed.
type StructureType string

const (
	StructureText StructureType = "text"
	StructureJSON StructureType = "json"
	StructureXML  StructureType = "xml"
)

var (
	codeFencePattern = regexp.MustCompile("\\s*```")
	reviewPattern    = regexp.MustCompile(`(?s)<review>.*?</review>`)
)

// ReviewComment is one comment extracted from an XML review.
type ReviewComment struct {
	Comment         string  `json:"comment"`
	CorrectiveCode  *string `json:"corrective_code"`
	FilePath        string  `json:"file_path"`
	LineNumber      string  `json:"line_number"`
	ConfidenceScore float64 `json:"confidence_score"`
	Bucket          string  `json:"bucket"`
}

// FormatCodeBlocks puts every code fence at the start of its own line.
func FormatCodeBlocks(text string) string {
	return codeFencePattern.ReplaceAllString(text, "\n```")
}

// FormatBucketName upper-cases a bucket and replaces spaces with underscores.
func FormatBucketName(bucket string) string {
	return strings.ReplaceAll(strings.ToUpper(bucket), " ", "_")
}

// firstJSONObject returns the first balanced {...} span in text. Braces inside
// JSON strings are not counted.
func firstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// ExtractJSONComments decodes the first JSON object in text and returns its
// "comments" array.
func ExtractJSONComments(text string) ([]map[string]interface{}, error) {
	span, ok := firstJSONObject(text)
	if !ok {
		return nil, llm.NewParseError("response does not contain a JSON object", nil)
	}
	if !gjson.Valid(span) {
		return nil, llm.NewParseError("response contains malformed JSON", nil)
	}

	comments := gjson.Get(span, "comments")
	if !comments.IsArray() {
		return nil, llm.NewParseError("JSON response has no comments array", nil)
	}

	out := make([]map[string]interface{}, 0, len(comments.Array()))
	for _, item := range comments.Array() {
		obj, ok := item.Value().(map[string]interface{})
		if !ok {
			return nil, llm.NewParseError("JSON comment is not an object: "+item.Raw, nil)
		}
		out = append(out, obj)
	}
	return out, nil
}

type xmlReview struct {
	XMLName  xml.Name     `xml:"review"`
	Comments *xmlComments `xml:"comments"`
}

type xmlComments struct {
	Comment []xmlComment `xml:"comment"`
}

type xmlComment struct {
	Description     *string `xml:"description"`
	CorrectiveCode  *string `xml:"corrective_code"`
	FilePath        *string `xml:"file_path"`
	LineNumber      *string `xml:"line_number"`
	ConfidenceScore *string `xml:"confidence_score"`
	Bucket          *string `xml:"bucket"`
}

// ParseXMLReview extracts comments from the first <review> element in text.
func ParseXMLReview(text string) ([]ReviewComment, error) {
	span := reviewPattern.FindString(text)
	if span == "" {
		return nil, llm.NewParseError("response does not contain <review> tags", nil)
	}

	var review xmlReview
	if err := xml.Unmarshal([]byte(span), &review); err != nil {
		return nil, llm.NewParseError("malformed review XML", err)
	}
	if review.Comments == nil {
		return nil, llm.NewParseError("review XML does not contain <comments>", nil)
	}

	comments := make([]ReviewComment, 0, len(review.Comments.Comment))
	for i, c := range review.Comments.Comment {
		comment, err := c.toComment()
		if err != nil {
			return nil, llm.NewParseError("comment "+strconv.Itoa(i)+": "+err.Error(), nil)
		}
		comments = append(comments, comment)
	}
	return comments, nil
}

type missingFieldError string

func (e missingFieldError) Error() string {
	return "missing <" + string(e) + ">"
}

func required(value *string, name string) (string, error) {
	if value == nil || *value == "" {
		return "", missingFieldError(name)
	}
	return *value, nil
}

func (c xmlComment) toComment() (ReviewComment, error) {
	var out ReviewComment
	description, err := required(c.Description, "description")
	if err != nil {
		return out, err
	}
	if out.FilePath, err = required(c.FilePath, "file_path"); err != nil {
		return out, err
	}
	if out.LineNumber, err = required(c.LineNumber, "line_number"); err != nil {
		return out, err
	}
	score, err := required(c.ConfidenceScore, "confidence_score")
	if err != nil {
		return out, err
	}
	bucket, err := required(c.Bucket, "bucket")
	if err != nil {
		return out, err
	}

	out.ConfidenceScore, err = strconv.ParseFloat(strings.TrimSpace(score), 64)
	if err != nil {
		return out, err
	}
	out.Comment = FormatCodeBlocks(description)
	out.Bucket = FormatBucketName(bucket)
	if c.CorrectiveCode != nil && *c.CorrectiveCode != "" {
		code := *c.CorrectiveCode
		out.CorrectiveCode = &code
	}
	return out, nil
}
