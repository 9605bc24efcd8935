package store

// Deployment contains the fields of a deployed chaincode saved to DB.
type Deployment struct {
	Name      string   `json:"name" bson:"_id"`
	Reference string   `json:"reference" bson:"reference"` // chaincode id returned by deploy
	Function  string   `json:"fcn" bson:"fcn"`
	Args      []string `json:"args" bson:"args"`
	Admin     string   `json:"admin" bson:"admin"`
	TS        int64    `json:"ts" bson:"ts"`
}
