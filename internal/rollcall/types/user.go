package types

// UserRecord is the persisted form of a directory entry: /users/<UID>.json.
type UserRecord struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
}

type AddUserRequest struct {
	UID  string `json:"uid" validate:"required"`
	Name string `json:"name" validate:"required"`
}

type CheckinRequest struct {
	UID string `json:"uid" validate:"required"`
}
