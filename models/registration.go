package models

// CitizenInput is the staff-entered registration form.
type CitizenInput struct {
	FullName      string
	CPF           string
	SpouseName    string
	SpouseCPF     string
	Zone          string
	Neighborhood  string
	Phone         string
	Email         string
	CEP           string
	Number        string
	Address       string
	SocialProgram string
}

// CitizenPayload is the JSON body the registry API expects on creation.
// Empty optionals are sent as null.
type CitizenPayload struct {
	FullName      string  `json:"nome_completo"`
	CPF           string  `json:"cpf"`
	SpouseName    *string `json:"nome_conjuge"`
	SpouseCPF     *string `json:"cpf_conjuge"`
	Zone          *string `json:"zona"`
	Neighborhood  *string `json:"bairro"`
	Phone         *string `json:"telefone"`
	Email         *string `json:"email"`
	Address       *string `json:"endereco_completo"`
	SocialProgram *string `json:"programa_social"`
}

// PostalAddress is a ViaCEP lookup result.
type PostalAddress struct {
	CEP          string `json:"cep"`
	Street       string `json:"logradouro"`
	Complement   string `json:"complemento"`
	Neighborhood string `json:"bairro"`
	City         string `json:"localidade"`
	State        string `json:"uf"`
}

// ImportResult is the server's answer to a spreadsheet upload.
type ImportResult struct {
	Message  string   `json:"message"`
	Detail   string   `json:"detail"`
	Imported int      `json:"imported"`
	Errors   []string `json:"errors"`
}
