package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	siweHeaderSuffix = " wants you to sign in with your Ethereum account:"
	siweTimeLayout   = "2006-01-02T15:04:05.000Z07:00"
	recapPrefix      = "urn:recap:"
	recapNamespace   = "Threshold"
)

var (
	ErrMalformedMessage = errors.New("session: malformed sign-in message")
	ErrMalformedRecap   = errors.New("session: malformed recap resource")
)

var chainIDs = map[string]int{
	"ethereum": 1,
	"optimism": 10,
	"polygon":  137,
	"base":     8453,
	"arbitrum": 42161,
	"sepolia":  11155111,
}

// ChainID maps a chain name to its EIP-155 id. Unknown chains sign against
// mainnet, the network only uses the id for display.
func ChainID(chain string) int { // A
	if id, ok := chainIDs[strings.ToLower(chain)]; ok {
		return id
	}
	return 1
}

// SIWEMessage is an EIP-4361 sign-in message.
type SIWEMessage struct { // A
	Domain         string
	Address        string
	Statement      string
	URI            string
	Version        string
	ChainID        int
	Nonce          string
	IssuedAt       time.Time
	ExpirationTime time.Time
	Resources      []string
}

// BuildSIWE renders msg in the exact text form that gets signed.
func BuildSIWE(msg SIWEMessage) string { // A
	var b strings.Builder
	b.WriteString(msg.Domain + siweHeaderSuffix + "\n")
	b.WriteString(msg.Address + "\n")
	b.WriteString("\n")
	if msg.Statement != "" {
		b.WriteString(msg.Statement + "\n")
		b.WriteString("\n")
	}

	version := msg.Version
	if version == "" {
		version = "1"
	}
	fmt.Fprintf(&b, "URI: %s\n", msg.URI)
	fmt.Fprintf(&b, "Version: %s\n", version)
	fmt.Fprintf(&b, "Chain ID: %d\n", msg.ChainID)
	fmt.Fprintf(&b, "Nonce: %s\n", msg.Nonce)
	fmt.Fprintf(&b, "Issued At: %s", msg.IssuedAt.UTC().Format(siweTimeLayout))
	if !msg.ExpirationTime.IsZero() {
		fmt.Fprintf(&b, "\nExpiration Time: %s", msg.ExpirationTime.UTC().Format(siweTimeLayout))
	}
	if len(msg.Resources) > 0 {
		b.WriteString("\nResources:")
		for _, r := range msg.Resources {
			b.WriteString("\n- " + r)
		}
	}
	return b.String()
}

// ParseSIWE parses a message produced by BuildSIWE.
func ParseSIWE(text string) (SIWEMessage, error) { // A
	var msg SIWEMessage
	lines := strings.Split(text, "\n")
	if len(lines) < 4 || !strings.HasSuffix(lines[0], siweHeaderSuffix) {
		return msg, fmt.Errorf("%w: missing header", ErrMalformedMessage)
	}
	msg.Domain = strings.TrimSuffix(lines[0], siweHeaderSuffix)
	msg.Address = lines[1]
	if lines[2] != "" {
		return msg, fmt.Errorf("%w: expected blank line after address", ErrMalformedMessage)
	}

	i := 3
	if !strings.HasPrefix(lines[i], "URI: ") {
		msg.Statement = lines[i]
		i++
		if i >= len(lines) || lines[i] != "" {
			return msg, fmt.Errorf("%w: expected blank line after statement", ErrMalformedMessage)
		}
		i++
	}

	for ; i < len(lines); i++ {
		line := lines[i]
		if line == "Resources:" {
			for _, r := range lines[i+1:] {
				if !strings.HasPrefix(r, "- ") {
					return msg, fmt.Errorf("%w: bad resource line %q", ErrMalformedMessage, r)
				}
				msg.Resources = append(msg.Resources, strings.TrimPrefix(r, "- "))
			}
			break
		}

		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			return msg, fmt.Errorf("%w: bad field line %q", ErrMalformedMessage, line)
		}
		var err error
		switch key {
		case "URI":
			msg.URI = value
		case "Version":
			msg.Version = value
		case "Chain ID":
			msg.ChainID, err = strconv.Atoi(value)
		case "Nonce":
			msg.Nonce = value
		case "Issued At":
			msg.IssuedAt, err = time.Parse(time.RFC3339, value)
		case "Expiration Time":
			msg.ExpirationTime, err = time.Parse(time.RFC3339, value)
		default:
			err = fmt.Errorf("unknown field %q", key)
		}
		if err != nil {
			return msg, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
	}

	if msg.URI == "" || msg.Nonce == "" || msg.IssuedAt.IsZero() {
		return msg, fmt.Errorf("%w: missing required field", ErrMalformedMessage)
	}
	return msg, nil
}

type recap struct {
	Att map[string]map[string][]map[string]any `json:"att"`
	Prf []string                               `json:"prf"`
}

func recapAbility(ability string) string {
	switch ability {
	case AbilityLitActionExecution:
		return recapNamespace + "/Execution"
	case AbilityACCDecryption:
		return recapNamespace + "/Decryption"
	default:
		return recapNamespace + "/" + ability
	}
}

func abilityFromRecap(key string) (string, bool) {
	name, ok := strings.CutPrefix(key, recapNamespace+"/")
	if !ok {
		return "", false
	}
	switch name {
	case "Execution":
		return AbilityLitActionExecution, true
	case "Decryption":
		return AbilityACCDecryption, true
	default:
		return name, true
	}
}

// EncodeRecap encodes a resource-ability list as a ReCap URN.
func EncodeRecap(reqs []ResourceAbilityRequest) (string, error) { // A
	rc := recap{Att: map[string]map[string][]map[string]any{}, Prf: []string{}}
	for _, r := range reqs {
		if rc.Att[r.Resource] == nil {
			rc.Att[r.Resource] = map[string][]map[string]any{}
		}
		rc.Att[r.Resource][recapAbility(r.Ability)] = []map[string]any{{}}
	}
	raw, err := json.Marshal(rc)
	if err != nil {
		return "", err
	}
	return recapPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeRecap is the inverse of EncodeRecap. Results are sorted by
// resource, then ability.
func DecodeRecap(urn string) ([]ResourceAbilityRequest, error) { // A
	enc, ok := strings.CutPrefix(urn, recapPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s prefix", ErrMalformedRecap, recapPrefix)
	}
	raw, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecap, err)
	}
	var rc recap
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecap, err)
	}

	var out []ResourceAbilityRequest
	for resource, abilities := range rc.Att {
		for key := range abilities {
			ability, ok := abilityFromRecap(key)
			if !ok {
				return nil, fmt.Errorf("%w: unknown namespace in %q", ErrMalformedRecap, key)
			}
			out = append(out, ResourceAbilityRequest{Resource: resource, Ability: ability})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Ability < out[j].Ability
	})
	return out, nil
}

// RecapStatement is the human readable summary of the granted abilities.
func RecapStatement(reqs []ResourceAbilityRequest) string { // A
	var b strings.Builder
	b.WriteString("I further authorize the stated URI to perform the following actions on my behalf:")
	for i, r := range reqs {
		ns, name, _ := strings.Cut(recapAbility(r.Ability), "/")
		fmt.Fprintf(&b, " (%d) '%s': '%s' for '%s'.", i+1, ns, name, r.Resource)
	}
	return b.String()
}
