package scenario

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tidwall/gjson"
)

// Fixture file names looked up in the data directory.
const (
	CombinationsFile = "valid_combinations.json"
	RoomIDsFile      = "roomIds.json"
	UserIDsFile      = "userIds.json"
)

// fallbackIDs is the id range used when no fixture is available.
const fallbackIDs = 1000

// ID is a user or room identifier. Fixtures hold numeric user ids and UUID
// room ids; numeric ids are sent back as JSON numbers.
type ID string

// MarshalJSON writes numeric ids as numbers and anything else as a string.
func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return []byte(strconv.Quote(string(id))), nil
}

func (id ID) String() string {
	return string(id)
}

func intID(n int) ID {
	return ID(strconv.Itoa(n))
}

// Combination is a user who is a member of a room.
type Combination struct {
	UserID ID
	RoomID ID
}

// Data holds the fixtures shared read-only by every VU.
type Data struct {
	Combinations []Combination
	RoomIDs      []ID
	UserIDs      []ID
}

// LoadData reads the fixtures from dir. Missing files leave the matching
// list empty; malformed files are an error.
func LoadData(dir string) (*Data, error) {
	d := &Data{}
	if dir == "" {
		return d, nil
	}

	err := readFixture(filepath.Join(dir, CombinationsFile), func(v gjson.Result) {
		c := Combination{
			UserID: ID(v.Get("userId").String()),
			RoomID: ID(v.Get("roomId").String()),
		}
		if c.UserID != "" && c.RoomID != "" {
			d.Combinations = append(d.Combinations, c)
		}
	})
	if err != nil {
		return nil, err
	}

	for file, dst := range map[string]*[]ID{RoomIDsFile: &d.RoomIDs, UserIDsFile: &d.UserIDs} {
		err := readFixture(filepath.Join(dir, file), func(v gjson.Result) {
			if s := v.String(); s != "" {
				*dst = append(*dst, ID(s))
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

func readFixture(path string, each func(gjson.Result)) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading fixture: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return fmt.Errorf("fixture %s: invalid JSON", path)
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsArray() {
		return fmt.Errorf("fixture %s: expected a JSON array", path)
	}
	doc.ForEach(func(_, v gjson.Result) bool {
		each(v)
		return true
	})
	return nil
}

// Combination returns a random valid user/room pair, or random ids in
// 1..1000 when no combinations were loaded.
func (d *Data) Combination() Combination {
	if len(d.Combinations) > 0 {
		return d.Combinations[rand.Intn(len(d.Combinations))]
	}
	return Combination{UserID: randomID(), RoomID: randomID()}
}

// RoomID returns a random room id.
func (d *Data) RoomID() ID {
	if len(d.RoomIDs) > 0 {
		return d.RoomIDs[rand.Intn(len(d.RoomIDs))]
	}
	return d.Combination().RoomID
}

// UserID returns a random user id.
func (d *Data) UserID() ID {
	if len(d.UserIDs) > 0 {
		return d.UserIDs[rand.Intn(len(d.UserIDs))]
	}
	return d.Combination().UserID
}

func randomID() ID {
	return intID(rand.Intn(fallbackIDs) + 1)
}
