package models

type Service struct {
	ServiceID     string `json:"service_id"`
	Name          string `json:"name" validate:"required,max=100"`
	Prefix        string `json:"prefix" validate:"required,alpha,min=1,max=3"`
	CurrentLetter string `json:"current_letter"`
	CurrentNumber int    `json:"current_number"`
	Color         string `json:"color" validate:"required,hexcolor"`
}
