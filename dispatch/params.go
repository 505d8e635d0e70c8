package dispatch

import (
	"encoding/json"
	"strconv"

	"github.com/taskboard/taskboard-go/tasks"
)

type loginParams struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type listParams struct {
	Status string `json:"status"`
}

// filter validates the optional status filter. The literal "all" (and
// absence) means no filtering.
func (p listParams) filter() (tasks.Status, error) {
	switch p.Status {
	case "", "all":
		return "", nil
	case string(tasks.StatusPending):
		return tasks.StatusPending, nil
	case string(tasks.StatusDone):
		return tasks.StatusDone, nil
	default:
		return "", errValidation("invalid status filter")
	}
}

type addParams struct {
	Title    string `json:"title"`
	Date     string `json:"date"`
	FileName string `json:"fileName"`
}

type idParams struct {
	ID TaskID `json:"id"`
}

// TaskID accepts both JSON numbers and numeric strings, since GraphQL
// ID values arrive as strings while the socket protocol sends numbers.
type TaskID int64

func (id *TaskID) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*id = TaskID(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return errValidation("malformed id")
		}
		*id = TaskID(parsed)
		return nil
	}
	return errValidation("malformed id")
}
